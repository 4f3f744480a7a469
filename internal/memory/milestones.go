package memory

import (
	"encoding/json"
	"fmt"
	"os"
)

func marshalLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return append(data, '\n'), nil
}

func readMilestones(path string) ([]Milestone, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read milestones: %w", err)
	}

	var ms []Milestone
	for len(data) > 0 {
		n := lineLen(data)
		if n > 0 {
			var m Milestone
			if err := json.Unmarshal(data[:n], &m); err != nil {
				return nil, fmt.Errorf("%w: milestone %d: %v", ErrCorrupt, len(ms)+1, err)
			}
			ms = append(ms, m)
		}
		if n < len(data) {
			n++
		}
		data = data[n:]
	}
	return ms, nil
}
