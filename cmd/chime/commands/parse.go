package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/attuneai/chime/cronexpr"
	"github.com/attuneai/chime/nlschedule"
)

// ParseCmd translates natural-language text into a cron expression locally,
// without needing a running daemon.
var ParseCmd = &cobra.Command{
	Use:   "parse <text>",
	Short: "Turn natural-language text into a cron expression",
	Long: `Parse natural-language schedule text into a five-field cron expression.

Examples:
  chime parse "every morning at 8am"
  chime parse "weekdays at 9:30am EST"
  chime parse "every 5 minutes"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")

		parsed, ok := nlschedule.Parse(text)
		if !ok {
			fmt.Println("Could not understand that schedule.")
			if q := nlschedule.ClarifyQuestion(parsed); q != "" {
				fmt.Println(q)
			}
			return nil
		}

		fmt.Printf("Expression:  %s\n", parsed.Expr)
		fmt.Printf("Meaning:     %s\n", parsed.Description)
		fmt.Printf("Confidence:  %.0f%%\n", parsed.Confidence*100)
		if parsed.Timezone != "" {
			fmt.Printf("Timezone:    %s\n", parsed.Timezone)
		}

		loc := time.Local
		if parsed.Timezone != "" {
			if l, err := time.LoadLocation(parsed.Timezone); err == nil {
				loc = l
			}
		}
		if next, err := cronexpr.Next(parsed.Expr, time.Now(), loc); err == nil {
			fmt.Printf("Next fire:   %s\n", next.Format("Mon Jan 2 15:04 MST"))
		}

		if q := nlschedule.ClarifyQuestion(parsed); q != "" {
			fmt.Printf("Note:        %s\n", q)
		}
		return nil
	},
}
