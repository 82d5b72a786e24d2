// Command probe sends one request carrying an X-Remote-User header to a
// cluster API endpoint over TLS and prints what comes back.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"remoteuser-probe/channel"
	"remoteuser-probe/probe"
	"remoteuser-probe/shared"
	"remoteuser-probe/upgrade"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	logger, err := shared.NewLoggerFromEnv("remoteuser-probe")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := shared.LoadProbeConfig()
	if err != nil {
		logger.Error("Invalid configuration", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	// run owns every resource; exit only after its defers have fired.
	if err := run(context.Background(), cfg, channel.NewDialer(cfg, logger), os.Stdout, logger); err != nil {
		logger.Error("Probe failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func run(ctx context.Context, cfg *shared.ProbeConfig, dialer *channel.Dialer, out io.Writer, logger *shared.Logger) error {
	logger = logger.WithRun(uuid.NewString()).WithTarget(cfg.Address())

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	result, err := exchange(ctx, cfg, dialer, out, logger)
	if err != nil {
		return err
	}

	verdict, err := probe.Classify(result)
	if err != nil {
		logger.Warn("Could not classify response", zap.Error(err))
	} else {
		fields := []zap.Field{
			zap.String("verdict", string(verdict.Kind)),
			zap.Int("status", verdict.StatusCode),
			zap.String("reason", verdict.Reason),
			zap.String("identity", cfg.Identity),
		}
		if verdict.Kind == probe.VerdictTrusted {
			logger.Security("Target acted on asserted identity", fields...)
		} else {
			logger.Info("Probe finished", fields...)
		}
	}

	if cfg.Select != "" {
		selections, err := probe.Select(result.Payload.Raw, cfg.Select)
		if err != nil {
			return err
		}
		for _, s := range selections {
			fmt.Fprintf(out, "%s: %s\n", s.Path, s.Raw)
		}
	}

	if cfg.Upgrade {
		up, err := upgrade.NewProber(cfg, dialer, logger).Run(ctx)
		if err != nil {
			return err
		}
		fields := []zap.Field{zap.Int("status", up.StatusCode), zap.String("identity", cfg.Identity)}
		if up.Accepted {
			logger.Security("Target upgraded connection for asserted identity", fields...)
		} else {
			logger.Info("Upgrade refused", fields...)
		}
	}

	return nil
}

// exchange runs the single request/response over its own stream, which is
// closed before returning on every path.
func exchange(ctx context.Context, cfg *shared.ProbeConfig, dialer *channel.Dialer, out io.Writer, logger *shared.Logger) (*probe.Result, error) {
	stream, err := dialer.Establish(ctx, cfg.Host, cfg.Port)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := stream.SetDeadline(deadline); err != nil {
			return nil, err
		}
	}

	return probe.NewExchanger(cfg, out, logger).Run(stream)
}
