package check

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
)

// PrintResult prints a colored summary of the check outcomes.
func PrintResult(res *Result) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	for _, it := range res.Items {
		switch it.Status {
		case StatusOK:
			green.Printf("  ✓ %-22s %s\n", it.Name, it.Detail)
		case StatusWarning:
			yellow.Printf("  ⚠ %-22s %s\n", it.Name, it.Detail)
			if it.Fix != "" {
				yellow.Printf("    └─ %s\n", it.Fix)
			}
		case StatusError:
			red.Printf("  ✗ %-22s %s\n", it.Name, it.Detail)
			if it.Fix != "" {
				red.Printf("    └─ %s\n", it.Fix)
			}
		}
	}

	sep := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	fmt.Println(sep.Render(strings.Repeat("─", 50)))

	errs, warns := res.Counts()
	switch {
	case errs > 0:
		color.New(color.FgRed, color.Bold).Printf("✗ Check completed (%d error(s), %d warning(s))\n", errs, warns)
	case warns > 0:
		color.New(color.FgYellow, color.Bold).Printf("⚠ Check completed (%d warning(s))\n", warns)
	default:
		color.New(color.FgGreen, color.Bold).Println("✓ Check completed - all checks passed")
	}
}

// PrintPlain prints the result without colors or styling, for --ci.
func PrintPlain(res *Result) {
	for _, it := range res.Items {
		marker := "OK  "
		switch it.Status {
		case StatusWarning:
			marker = "WARN"
		case StatusError:
			marker = "FAIL"
		}
		fmt.Printf("[%s] %s: %s\n", marker, it.Name, it.Detail)
		if it.Fix != "" && it.Status != StatusOK {
			fmt.Printf("       fix: %s\n", it.Fix)
		}
	}
	errs, warns := res.Counts()
	fmt.Printf("checks: %d, errors: %d, warnings: %d\n", len(res.Items), errs, warns)
}

// Counts returns the number of error and warning items.
func (r *Result) Counts() (errs, warns int) {
	for _, it := range r.Items {
		switch it.Status {
		case StatusError:
			errs++
		case StatusWarning:
			warns++
		}
	}
	return errs, warns
}
