package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	gohost "github.com/shirou/gopsutil/v4/host"
)

// SystemPrompt is the fixed instruction given to the model on every turn.
const SystemPrompt = "You are an expert in linux bash commands, you help the user in troubleshooting or fetching deails from the system based on the user query. \n" +
	"Make sure that you understand the user query and form a STEP BY STEP plan of how you would answer the question.\n" +
	"Use the `run_command` function tool execute bash commands and get the response. \n" +
	"Analyse the response to answer the user questions. \n" +
	"You can use the tool as many times as needed in order to answer the question. \n" +
	"\n" +
	"RULES:\n" +
	"- Never execute harmful commands. \n" +
	"- Never delete anything, shutdown or restart the system. Do not install anything or change anything on the system.\n" +
	"- Respond that you will not be able to do it if user askes you to perform anything that changes data in the system. \n"

// SuggestedQuestions is shown while the chat is empty.
const SuggestedQuestions = "\nYou can ask me, \n" +
	"1. Find and display the process that is consuming the maximum CPU or memory resources.\n" +
	"2. Show me the pods that are currently not running in the Kubernetes cluster. Try to troubleshoot why the pods are not running.\n" +
	"3. Please list the top 10 largest files in the directory `/path/to/directory`.\n" +
	"4. Create a backup of the directory `/path/to/directory` and its contents.\n" +
	"5. find all files modified within the last 24 hours in the directory `/path/to/directory`.\n"

// BuildSystemPrompt returns SystemPrompt, followed by a host description
// when one is given.
func BuildSystemPrompt(hostContext string) string {
	hostContext = strings.TrimSpace(hostContext)
	if hostContext == "" {
		return SystemPrompt
	}
	return SystemPrompt + "\nHOST:\n" + hostContext + "\n"
}

// HostInfoFunc matches gopsutil's host.InfoWithContext.
type HostInfoFunc func(ctx context.Context) (*gohost.InfoStat, error)

// HostContext describes the local machine so the model can pick commands
// that exist on it. Errors yield an empty string.
func HostContext(ctx context.Context) string {
	return hostContextFrom(ctx, gohost.InfoWithContext)
}

func hostContextFrom(ctx context.Context, info HostInfoFunc) string {
	stat, err := info(ctx)
	if err != nil || stat == nil {
		log.Debug().Err(err).Msg("Host info unavailable for system prompt")
		return ""
	}

	var b strings.Builder
	if stat.Hostname != "" {
		fmt.Fprintf(&b, "- Hostname: %s\n", stat.Hostname)
	}
	platform := strings.TrimSpace(stat.Platform + " " + stat.PlatformVersion)
	if platform != "" {
		fmt.Fprintf(&b, "- OS: %s (%s)\n", platform, stat.OS)
	}
	if stat.KernelVersion != "" {
		fmt.Fprintf(&b, "- Kernel: %s %s\n", stat.KernelVersion, stat.KernelArch)
	}
	if stat.VirtualizationSystem != "" && stat.VirtualizationRole == "guest" {
		fmt.Fprintf(&b, "- Virtualization: %s guest\n", stat.VirtualizationSystem)
	}
	return b.String()
}
