package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"evalgo.org/kiwi/internal/credentials"
	"evalgo.org/kiwi/internal/orchestration"
	"evalgo.org/kiwi/models"
)

// maxPromptRounds bounds how often one operation may ask for credentials.
const maxPromptRounds = 3

// prompter asks for hop credentials on a terminal. Passwords are read
// without echo when in is a terminal.
type prompter struct {
	in  *bufio.Reader
	out io.Writer

	// readPassword reads one hidden line
	readPassword func() (string, error)
}

func newTerminalPrompter() *prompter {
	p := &prompter{in: bufio.NewReader(os.Stdin), out: os.Stderr}
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		p.readPassword = func() (string, error) {
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(p.out)
			return string(b), err
		}
	} else {
		p.readPassword = p.readLine
	}
	return p
}

func (p *prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ask collects one credential row per hop of view, offering the prefill.
func (p *prompter) ask(view models.AuthSessionView) ([]models.CredentialInput, error) {
	fmt.Fprintf(p.out, "Credentials required for %s (%d hops)\n", view.Purpose, len(view.Hops))

	rows := make([]models.CredentialInput, len(view.Hops))
	for i, h := range view.Hops {
		var prefill models.CredentialInput
		if i < len(view.Prefill) {
			prefill = view.Prefill[i]
		}

		if prefill.Username != "" {
			fmt.Fprintf(p.out, "  hop %d %s username [%s]: ", i, h.Address(), prefill.Username)
		} else {
			fmt.Fprintf(p.out, "  hop %d %s username: ", i, h.Address())
		}
		user, err := p.readLine()
		if err != nil {
			return nil, fmt.Errorf("failed to read username: %w", err)
		}
		if user == "" {
			user = prefill.Username
		}

		fmt.Fprintf(p.out, "  hop %d %s password: ", i, h.Address())
		pass, err := p.readPassword()
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}

		rows[i] = models.CredentialInput{Username: user, Password: pass}
	}
	return rows, nil
}

// runInteractive runs op and answers every credentials request from the
// prompter by continuing the parked operation. Incomplete rows are asked again.
func runInteractive(ctx context.Context, orch *orchestration.Orchestrator, p *prompter, op func(ctx context.Context) (*orchestration.Result, error)) (*orchestration.Result, error) {
	res, err := op(ctx)
	for round := 0; err != nil; round++ {
		view, ok := orchestration.IsCredentialsRequired(err)
		if !ok {
			return nil, err
		}
		if round >= maxPromptRounds {
			_ = orch.Cancel(view.ID)
			return nil, fmt.Errorf("giving up after %d credential prompts", maxPromptRounds)
		}

		rows, perr := p.ask(view)
		if perr != nil {
			_ = orch.Cancel(view.ID)
			return nil, perr
		}

		res, err = orch.Continue(ctx, view.ID, rows)
		if err != nil && isRetryableInput(err) {
			fmt.Fprintf(p.out, "  %v\n", err)
			err = &orchestration.CredentialsRequiredError{Session: view}
		}
	}
	return res, nil
}

// isRetryableInput reports errors that leave the session open for another try.
func isRetryableInput(err error) bool {
	return errors.Is(err, credentials.ErrIncomplete) || errors.Is(err, credentials.ErrInputLength)
}
