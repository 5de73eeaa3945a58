package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowmark/flowmark/pkg/schedule"
)

// specFlags are the schedule-spec flags shared by preview and
// schedule create. Exactly one of every, cron, or rrule must be set.
type specFlags struct {
	every    time.Duration
	anchor   string
	cron     string
	rrule    string
	timezone string
	dayAnd   bool
}

func (f *specFlags) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&f.every, "every", 0, "fixed interval between occurrences (e.g. 15m)")
	cmd.Flags().StringVar(&f.anchor, "anchor", "", "interval anchor instant (RFC 3339, defaults to now)")
	cmd.Flags().StringVar(&f.cron, "cron", "", "cron expression (five or six fields)")
	cmd.Flags().StringVar(&f.rrule, "rrule", "", "RFC 5545 recurrence rule, with optional DTSTART line")
	cmd.Flags().StringVar(&f.timezone, "timezone", "", "IANA timezone name (defaults to UTC)")
	cmd.Flags().BoolVar(&f.dayAnd, "day-and", false, "intersect day-of-month and day-of-week instead of the cron-standard union")
}

// build constructs and validates the spec the flags describe.
func (f *specFlags) build() (schedule.Spec, error) {
	defined := 0
	if f.every > 0 {
		defined++
	}
	if f.cron != "" {
		defined++
	}
	if f.rrule != "" {
		defined++
	}
	if defined != 1 {
		return nil, fmt.Errorf("exactly one of --every, --cron, or --rrule is required")
	}

	var spec schedule.Spec
	switch {
	case f.every > 0:
		anchor := time.Now().UTC().Truncate(time.Second)
		if f.anchor != "" {
			t, err := time.Parse(time.RFC3339, f.anchor)
			if err != nil {
				return nil, fmt.Errorf("invalid --anchor %q: %w", f.anchor, err)
			}
			anchor = t
		}
		spec = schedule.Interval{Every: f.every, Anchor: anchor, Timezone: f.timezone}
	case f.cron != "":
		spec = schedule.Cron{Expression: f.cron, Timezone: f.timezone, DayOr: !f.dayAnd}
	default:
		spec = schedule.RRule{Rule: f.rrule, Timezone: f.timezone}
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

func newPreviewCommand() *cobra.Command {
	var (
		flags specFlags
		from  string
		count int
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Preview upcoming occurrences of a schedule spec",
		Long: `Expand a schedule specification and print its next occurrences without
persisting anything. Useful for checking an expression before creating
a schedule with it.`,
		Example: `  # Every fifteen minutes from a fixed anchor
  flowmark preview --every 15m --anchor 2026-01-01T00:00:00Z

  # Workday mornings in New York
  flowmark preview --cron "0 9 * * 1-5" --timezone America/New_York

  # Every second day per RFC 5545
  flowmark preview --rrule "FREQ=DAILY;INTERVAL=2" --count 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := flags.build()
			if err != nil {
				return err
			}

			after := time.Now()
			if from != "" {
				after, err = time.Parse(time.RFC3339, from)
				if err != nil {
					return fmt.Errorf("invalid --from %q: %w", from, err)
				}
			}

			occurrences, err := schedule.Occurrences(spec, after, count)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(occurrences)
			}
			for _, occ := range occurrences {
				fmt.Println(occ.Format(time.RFC3339))
			}
			if len(occurrences) < count {
				fmt.Printf("(series ends after %d occurrences)\n", len(occurrences))
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&from, "from", "", "preview occurrences strictly after this instant (RFC 3339, defaults to now)")
	cmd.Flags().IntVarP(&count, "count", "n", 10, "number of occurrences to print")

	return cmd
}
