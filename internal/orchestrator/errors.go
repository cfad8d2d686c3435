// Package orchestrator drives one conversational turn end to end: planning,
// tool routing, streaming, settlement, and the background writers.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/normanking/converse/internal/tools"
)

// StopNotice is the terminal content marker for a cancelled turn.
const StopNotice = "*Response generation stopped.*"

// Entry-guard sentinels. A rejected Send makes no mutation at all.
var (
	// ErrBusy means a turn is already in flight for this conversation.
	ErrBusy = errors.New("a turn is already in progress")

	// ErrEmptyPrompt means the prompt and all attachments were empty.
	ErrEmptyPrompt = errors.New("prompt and attachments are empty")

	// ErrNoCredential means no API credential is configured.
	ErrNoCredential = errors.New("no API credential configured")

	// ErrNothingToRetry means no prior model message exists to retry.
	ErrNothingToRetry = errors.New("nothing to retry")
)

// humanMessage classifies err into the apologetic text shown as the settled
// model message. The raw error goes to the log, never to the user.
func humanMessage(err error) string {
	var molErr *tools.MoleculeError
	switch {
	case errors.As(err, &molErr):
		return fmt.Sprintf("I'm sorry, I couldn't find a 3-D model for %q. Try the common or IUPAC name of the compound.", molErr.Name)

	case errors.Is(err, tools.ErrNoURL):
		return "I'm sorry, I need a URL to read. Please attach a link and try again."

	case errors.Is(err, context.DeadlineExceeded):
		return "I'm sorry, that took too long and the request timed out. Please try again."

	case strings.Contains(err.Error(), "url read"):
		return "I'm sorry, I couldn't read that page. The site may be down or blocking access."

	case strings.Contains(err.Error(), "status 429"), strings.Contains(err.Error(), "quota"):
		return "I'm sorry, the service is receiving too many requests right now. Please wait a moment and try again."

	case strings.Contains(err.Error(), "API key"):
		return "I'm sorry, the API credential appears to be invalid or missing. Check your configuration."

	default:
		return "I'm sorry, something went wrong while generating the response. Please try again."
	}
}
