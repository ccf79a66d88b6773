// Command veolia is a small CLI around the veolia package: it logs into
// the customer space with the credentials from the environment (or a .env
// file) and fetches consumption data or alert settings.
//
// Required environment: VEOLIA_USERNAME, VEOLIA_PASSWORD.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/istefr/veolia-go/veolia"
)

const (
	envUsername = "VEOLIA_USERNAME"
	envPassword = "VEOLIA_PASSWORD"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "veolia",
		Short:         "Client for the Veolia eau customer space",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	newClient := func() (*veolia.Client, error) {
		// a missing .env is fine, the variables may come from the process
		// environment
		_ = godotenv.Load()

		username := os.Getenv(envUsername)
		password := os.Getenv(envPassword)
		if username == "" || password == "" {
			return nil, fmt.Errorf("%s and %s must be set", envUsername, envPassword)
		}

		level := hclog.Info
		if verbose {
			level = hclog.Debug
		}
		logger := hclog.New(&hclog.LoggerOptions{
			Name:  "veolia",
			Level: level,
		})
		return veolia.NewClient(username, password, veolia.WithLogger(logger))
	}

	root.AddCommand(newFetchCmd(newClient))
	root.AddCommand(newAlertsCmd(newClient))
	return root
}

func newFetchCmd(newClient func() (*veolia.Client, error)) *cobra.Command {
	now := time.Now()
	var year, month int

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch monthly and daily consumption plus alert settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			defer client.Done()

			ctx := context.Background()
			if err := client.FetchAllData(ctx, year, month); err != nil {
				return err
			}

			account := client.Account()
			fmt.Printf("monthly readings: %d\n", countEntries(account.MonthlyConsumption))
			fmt.Printf("daily readings:   %d\n", countEntries(account.DailyConsumption))
			printAlerts(account.Alerts)
			return nil
		},
	}
	cmd.Flags().IntVar(&year, "year", now.Year(), "year to fetch")
	cmd.Flags().IntVar(&month, "month", int(now.Month()), "month to fetch daily readings for")
	return cmd
}

func newAlertsCmd(newClient func() (*veolia.Client, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Show the consumption alert settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			defer client.Done()

			settings, err := client.Alerts(context.Background())
			if err != nil {
				return err
			}
			printAlerts(settings)
			return nil
		},
	}

	var dailyThreshold, monthlyThreshold int
	var dailySMS, monthlySMS bool
	set := &cobra.Command{
		Use:   "set",
		Short: "Update the consumption alert thresholds (0 disables a period)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			defer client.Done()

			settings := veolia.AlertSettings{
				DailyEnabled:       dailyThreshold > 0,
				DailyThreshold:     dailyThreshold,
				DailyNotifyEmail:   true, // upstream does not allow disabling email
				DailyNotifySMS:     dailySMS,
				MonthlyEnabled:     monthlyThreshold > 0,
				MonthlyThreshold:   monthlyThreshold,
				MonthlyNotifyEmail: true,
				MonthlyNotifySMS:   monthlySMS,
			}
			if err := client.SetAlerts(context.Background(), settings); err != nil {
				return err
			}
			fmt.Println("alert settings updated")
			return nil
		},
	}
	set.Flags().IntVar(&dailyThreshold, "daily", 0, "daily threshold in litres (minimum 100)")
	set.Flags().BoolVar(&dailySMS, "daily-sms", false, "notify daily alerts by SMS")
	set.Flags().IntVar(&monthlyThreshold, "monthly", 0, "monthly threshold in cubic meters (minimum 1)")
	set.Flags().BoolVar(&monthlySMS, "monthly-sms", false, "notify monthly alerts by SMS")
	cmd.AddCommand(set)

	return cmd
}

// countEntries counts the elements of an opaque JSON array payload.
func countEntries(payload json.RawMessage) int {
	var entries []json.RawMessage
	if err := json.Unmarshal(payload, &entries); err != nil {
		return 0
	}
	return len(entries)
}

func printAlerts(settings *veolia.AlertSettings) {
	if settings == nil {
		return
	}
	if settings.DailyEnabled {
		fmt.Printf("daily alert:      %d L (sms: %t)\n", settings.DailyThreshold, settings.DailyNotifySMS)
	} else {
		fmt.Println("daily alert:      disabled")
	}
	if settings.MonthlyEnabled {
		fmt.Printf("monthly alert:    %d m3 (sms: %t)\n", settings.MonthlyThreshold, settings.MonthlyNotifySMS)
	} else {
		fmt.Println("monthly alert:    disabled")
	}
}
