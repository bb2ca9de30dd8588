package confirmation

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"mysql-mirror/internal/display"

	"golang.org/x/term"
)

// ErrNotInteractive is returned when confirmation is needed but stdin is not
// a terminal
var ErrNotInteractive = errors.New("refusing to restore without confirmation: stdin is not a terminal, pass --yes to proceed")

// RestorePlan describes what a restore is about to overwrite
type RestorePlan struct {
	Primary        string
	Backup         string
	LastBackupTime *time.Time
	LastBackupOK   *bool
}

// ConfirmationService asks the operator before destructive runs
type ConfirmationService interface {
	ConfirmRestore(ctx context.Context, plan RestorePlan, autoApprove bool) (bool, error)
}

type confirmationService struct {
	in          io.Reader
	out         io.Writer
	colors      display.ColorSystem
	interactive func() bool
}

// NewConfirmationService creates a service reading from stdin and writing
// prompts to stderr
func NewConfirmationService(colors display.ColorSystem) ConfirmationService {
	return &confirmationService{
		in:     os.Stdin,
		out:    os.Stderr,
		colors: colors,
		interactive: func() bool {
			return term.IsTerminal(int(os.Stdin.Fd()))
		},
	}
}

// NewConfirmationServiceWithIO creates a service over arbitrary streams,
// always treated as interactive
func NewConfirmationServiceWithIO(in io.Reader, out io.Writer) ConfirmationService {
	return &confirmationService{
		in:          in,
		out:         out,
		colors:      display.NewPlainColorSystem(),
		interactive: func() bool { return true },
	}
}

// ConfirmRestore shows what the restore replaces and waits for a yes.
// Cancelling ctx aborts the prompt.
func (cs *confirmationService) ConfirmRestore(ctx context.Context, plan RestorePlan, autoApprove bool) (bool, error) {
	cs.displaySummary(plan)

	if autoApprove {
		fmt.Fprintln(cs.out, cs.colors.Colorize("Auto-approving restore (--yes)", cs.colors.Theme().Success))
		return true, nil
	}
	if !cs.interactive() {
		return false, ErrNotInteractive
	}

	inputChan := make(chan string, 1)
	errorChan := make(chan error, 1)
	reader := bufio.NewReader(cs.in)

	for {
		go func() {
			input, err := cs.promptForConfirmation(reader)
			if err != nil {
				errorChan <- err
				return
			}
			inputChan <- input
		}()

		select {
		case <-ctx.Done():
			fmt.Fprintln(cs.out, "\n"+cs.colors.Colorize("Restore cancelled", cs.colors.Theme().Warning))
			return false, ctx.Err()
		case err := <-errorChan:
			if errors.Is(err, io.EOF) {
				return false, nil
			}
			return false, fmt.Errorf("failed to read user input: %w", err)
		case input := <-inputChan:
			switch strings.ToLower(input) {
			case "y", "yes":
				return true, nil
			case "n", "no", "":
				fmt.Fprintln(cs.out, "Restore cancelled")
				return false, nil
			default:
				fmt.Fprintf(cs.out, "Invalid input '%s'. Please enter 'y' for yes or 'n' for no.\n", input)
			}
		}
	}
}

func (cs *confirmationService) displaySummary(plan RestorePlan) {
	theme := cs.colors.Theme()

	fmt.Fprintln(cs.out, cs.colors.Colorize("RESTORE REPLACES LIVE DATA", theme.Error))
	fmt.Fprintln(cs.out, strings.Repeat("=", 50))
	fmt.Fprintf(cs.out, "Every table in %s that exists in %s will be replaced by its backup copy.\n", plan.Primary, plan.Backup)
	fmt.Fprintln(cs.out, "Rows written since the last backup will be lost.")

	switch {
	case plan.LastBackupTime == nil:
		fmt.Fprintln(cs.out, cs.colors.Colorize("No backup has been recorded for this database.", theme.Warning))
	case plan.LastBackupOK != nil && !*plan.LastBackupOK:
		fmt.Fprintf(cs.out, "%s %s\n", cs.colors.Colorize("The last backup failed at", theme.Warning), plan.LastBackupTime.UTC().Format(time.RFC3339))
	default:
		fmt.Fprintf(cs.out, "Last successful backup: %s\n", plan.LastBackupTime.UTC().Format(time.RFC3339))
	}
	fmt.Fprintln(cs.out)
}

func (cs *confirmationService) promptForConfirmation(reader *bufio.Reader) (string, error) {
	fmt.Fprint(cs.out, "Do you want to restore? [y/N]: ")

	input, err := reader.ReadString('\n')
	if err != nil && (input == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
