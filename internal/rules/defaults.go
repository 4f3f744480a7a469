package rules

import "time"

// Defaults returns the built-in rule sets for the common infrastructure
// tools. Custom rule files for the same tool replace these wholesale.
// A tool with no rules at all classifies as approval by default, so these
// lists only need to name what is known-safe or known-destructive.
func Defaults() *Snapshot {
	return NewSnapshot(
		&ToolRules{
			Tool: "kubectl",
			Auto: []string{
				"kubectl get *",
				"kubectl describe *",
				"kubectl explain *",
				"kubectl logs *",
				"kubectl top *",
				"kubectl version*",
				"kubectl api-resources*",
				"kubectl config view*",
				"kubectl config current-context*",
				"kubectl cluster-info*",
			},
			Approval: []string{
				"kubectl apply *",
				"kubectl create *",
				"kubectl edit *",
				"kubectl scale *",
				"kubectl rollout *",
				"kubectl label *",
				"kubectl annotate *",
				"kubectl exec *",
				"kubectl cordon *",
				"kubectl uncordon *",
				"kubectl port-forward *",
				"kubectl taint *",
			},
			Destructive: []string{
				"kubectl delete *",
				"kubectl drain *",
				"kubectl replace --force*",
				"kubectl apply --force*",
			},
			Streaming: []string{
				"kubectl logs -f *",
				"kubectl logs --follow *",
				"kubectl port-forward *",
				"kubectl get * --watch*",
			},
		},
		&ToolRules{
			Tool: "docker",
			Auto: []string{
				"docker ps*",
				"docker images*",
				"docker inspect *",
				"docker logs *",
				"docker version*",
				"docker info*",
				"docker stats --no-stream*",
				"docker volume ls*",
				"docker network ls*",
			},
			Approval: []string{
				"docker run *",
				"docker build *",
				"docker exec *",
				"docker stop *",
				"docker restart *",
				"docker pull *",
				"docker push *",
				"docker tag *",
				"docker compose *",
			},
			Destructive: []string{
				"docker rm *",
				"docker rmi *",
				"docker kill *",
				"docker system prune*",
				"docker volume rm *",
				"docker volume prune*",
				"docker network rm *",
			},
			Streaming: []string{
				"docker logs -f *",
				"docker logs --follow *",
				"docker events*",
				"docker attach *",
			},
		},
		&ToolRules{
			Tool: "git",
			Auto: []string{
				"git status*",
				"git log*",
				"git diff*",
				"git show*",
				"git branch*",
				"git remote*",
				"git rev-parse *",
				"git fetch*",
				"git blame *",
				"git describe*",
			},
			Approval: []string{
				"git add *",
				"git commit *",
				"git checkout *",
				"git switch *",
				"git merge *",
				"git pull*",
				"git rebase *",
				"git stash*",
				"git tag *",
				"git cherry-pick *",
				"git push*",
			},
			Destructive: []string{
				"git push --force*",
				"git push -f*",
				"git reset --hard*",
				"git clean -f*",
				"git branch -D *",
				"git checkout .",
			},
			Timeout: 60 * time.Second,
		},
		&ToolRules{
			Tool: "helm",
			Auto: []string{
				"helm list*",
				"helm status *",
				"helm get *",
				"helm history *",
				"helm show *",
				"helm search *",
				"helm repo list*",
				"helm version*",
			},
			Approval: []string{
				"helm install *",
				"helm upgrade *",
				"helm rollback *",
				"helm repo add *",
				"helm repo update*",
			},
			Destructive: []string{
				"helm uninstall *",
				"helm delete *",
			},
			Timeout: 2 * time.Minute,
		},
	)
}
