package remediation

import (
	"fmt"
	"strings"

	"autoheal/models"
	"autoheal/notify"
)

// Owner notifications use Telegram's legacy Markdown. Everything that comes
// from the target, the model or the hosting API is escaped.

func startMessage(event models.FailureEvent) string {
	status := "no response"
	if event.StatusCode != 0 {
		status = fmt.Sprintf("HTTP %d", event.StatusCode)
	}
	target := notify.EscapeMarkdown(event.TargetURL)
	if event.Kind == models.ManualTrigger {
		return fmt.Sprintf("🔧 *Manual heal requested* (last status: %s)\nDiagnosing %s ...", status, target)
	}
	return fmt.Sprintf("🚨 *App down* (%s)\nDiagnosing %s ...", status, target)
}

func successMessage(d models.Diagnosis, result models.PublishResult) string {
	next := "Awaiting review."
	if result.AutoMerged {
		next = "Merged; deployment follows the repository's pipeline."
	} else if d.Severity.AtLeast(models.SeverityCritical) {
		next = "Critical severity: awaiting manual review."
	}
	return fmt.Sprintf("✅ *Fix published*\n%s\n\n%s\n%s", summarize(d), notify.EscapeMarkdown(result.PRURL), next)
}

func failureMessage(d models.Diagnosis, result models.PublishResult) string {
	msg := fmt.Sprintf("❌ *Fix publishing failed* at %s: %s\n\n%s",
		result.FailedStep, notify.EscapeMarkdown(result.Reason), summarize(d))
	if result.PRURL != "" {
		msg += "\n" + notify.EscapeMarkdown(result.PRURL)
	}
	return msg
}

// summarize renders a diagnosis for an owner notification
func summarize(d models.Diagnosis) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*Root cause:* %s\n", notify.EscapeMarkdown(d.RootCause)))
	sb.WriteString(fmt.Sprintf("*Severity:* %s\n", d.Severity))
	if len(d.AffectedFiles) > 0 {
		sb.WriteString(fmt.Sprintf("*Files:* %s\n", notify.EscapeMarkdown(strings.Join(d.AffectedFiles, ", "))))
	}
	if d.Explanation != "" {
		sb.WriteString(notify.EscapeMarkdown(d.Explanation))
	}
	return strings.TrimRight(sb.String(), "\n")
}
