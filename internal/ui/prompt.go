package ui

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/manifoldco/promptui"
)

// ErrCancelled is returned when the user aborts a prompt
var ErrCancelled = errors.New("operation cancelled by user")

// ConfirmPrompt asks a yes/no confirmation question
func ConfirmPrompt(label string) (bool, error) {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}

	result, err := prompt.Run()
	if err != nil {
		// promptui reports "n" on a confirm prompt as ErrAbort
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		if errors.Is(err, promptui.ErrInterrupt) {
			return false, ErrCancelled
		}
		return false, err
	}

	return strings.EqualFold(result, "y"), nil
}

// ConfirmDangerousAction asks for confirmation with a warning
func ConfirmDangerousAction(action, target string) (bool, error) {
	PrintWarning("You are about to %s: %s", action, target)
	return ConfirmPrompt(fmt.Sprintf("Are you sure you want to %s", action))
}

// SelectPrompt presents a list of options with fuzzy search
func SelectPrompt(label string, items []string) (int, string, error) {
	if len(items) == 0 {
		return -1, "", errors.New("nothing to select")
	}

	prompt := promptui.Select{
		Label:    label,
		Items:    items,
		Size:     min(10, len(items)),
		Searcher: fuzzySearcher(items),
	}

	index, result, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrInterrupt) {
			return -1, "", ErrCancelled
		}
		return -1, "", err
	}

	return index, result, nil
}

func fuzzySearcher(items []string) func(string, int) bool {
	return func(input string, index int) bool {
		if index < 0 || index >= len(items) {
			return false
		}
		input = strings.TrimSpace(input)
		return input == "" || fuzzy.MatchNormalizedFold(input, items[index])
	}
}

// FuzzyFilter keeps the items matching query, best matches first.
// An empty query returns items unchanged.
func FuzzyFilter(query string, items []string) []string {
	query = strings.TrimSpace(query)
	if query == "" {
		return items
	}

	ranks := fuzzy.RankFindNormalizedFold(query, items)
	sort.Stable(ranks)

	out := make([]string, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, r.Target)
	}
	return out
}
