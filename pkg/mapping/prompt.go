package mapping

import (
	"fmt"

	"github.com/charmbracelet/huh"
)

// TerminalPrompter asks the operator on the terminal which budget
// account a source account belongs to.
type TerminalPrompter struct{}

func (TerminalPrompter) SelectAccount(sourceKey string, accounts []Account) (string, error) {
	options := make([]huh.Option[string], 0, len(accounts)+1)
	for _, a := range accounts {
		options = append(options, huh.NewOption(a.Name, a.ID))
	}
	options = append(options, huh.NewOption("Skip (do not map)", ""))

	var choice string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(fmt.Sprintf("Which account should %q import into?", sourceKey)).
			Options(options...).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return "", err
	}
	return choice, nil
}
