package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/meteo-pwa/internal/config"
	"github.com/kjstillabower/meteo-pwa/internal/models"
	"github.com/kjstillabower/meteo-pwa/internal/notify"
	"github.com/kjstillabower/meteo-pwa/internal/observability"
	"github.com/kjstillabower/meteo-pwa/internal/service"
	"github.com/kjstillabower/meteo-pwa/internal/worker"
)

var checkTimeout time.Duration

var checkCmd = &cobra.Command{
	Use:   "check <city>",
	Short: "Look up a city and show which alerts would fire",
	Long: `Geocodes the city, fetches today's forecast and prints the report with the alert
evaluation against the persisted notification state. Nothing is dispatched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := observability.NewLogger()
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		timeout := checkTimeout
		if timeout <= 0 {
			timeout = cfg.RequestTimeout
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		out, err := check(ctx, cfg, logger, args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 0, "Lookup timeout (default: request timeout from config)")
	rootCmd.AddCommand(checkCmd)
}

// checkResult is the output of the check command.
type checkResult struct {
	Report     models.Report     `json:"report"`
	Evaluation notify.Evaluation `json:"evaluation"`
	Decisions  []notify.Decision `json:"decisions"`
}

// check runs one lookup straight against the provider and previews the alert
// decisions. The lookup does not schedule an alert check.
func check(ctx context.Context, cfg *config.Config, logger *zap.Logger, city string) (checkResult, error) {
	weatherClient, err := newClient(cfg, nil)
	if err != nil {
		return checkResult{}, err
	}
	svc := service.NewWeatherService(service.Config{
		Client: weatherClient,
		Logger: observability.Named(logger, "service"),
	})
	defer svc.Close()

	report, err := svc.Lookup(ctx, city)
	if err != nil {
		return checkResult{}, err
	}

	store, closer, _ := newStateStore(cfg, logger)
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}
	basePath, err := worker.BasePath(cfg.WorkerScriptURL)
	if err != nil {
		return checkResult{}, err
	}
	engine := notify.NewEngine(notify.Config{
		Store:    store,
		BasePath: basePath,
		Logger:   observability.Named(logger, "notify"),
	})
	ev, decisions := engine.Preview(ctx, report.Location.Name, report.Hours)
	return checkResult{
		Report:     report,
		Evaluation: ev,
		Decisions:  decisions,
	}, nil
}
