package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/subcommands"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/controller-runtime/pkg/client/config"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/cluster-power-manager/amd-smu/internal/nodeinfo"
	"github.com/cluster-power-manager/amd-smu/pkg/smu"
)

const nodeNameEnv = "NODE_NAME"

// PublishNode implements subcommands.Command for the "publish-node" command.
type PublishNode struct {
	opts *globalOptions
	node string
}

// Name implements subcommands.Command.Name.
func (*PublishNode) Name() string {
	return "publish-node"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*PublishNode) Synopsis() string {
	return "annotate the Kubernetes Node with the SMU facts of this host"
}

// Usage implements subcommands.Command.Usage.
func (*PublishNode) Usage() string {
	return `publish-node [--node NAME]

The node name defaults to $NODE_NAME. The cluster is reached through the
usual kubeconfig lookup or the in-cluster service account.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *PublishNode) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.node, "node", os.Getenv(nodeNameEnv), "name of the Node to annotate")
}

// Execute implements subcommands.Command.Execute.
func (p *PublishNode) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 || p.node == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}
	client, err := p.opts.kubeClient()
	if err != nil {
		return p.opts.failure("%v", err)
	}

	return p.opts.withSMU(func(s smu.SMU) error {
		info, err := nodeinfo.Collect(s)
		if err != nil {
			return err
		}
		updated, err := nodeinfo.NewPublisher(client).Publish(ctx, p.node, info)
		if err != nil {
			return err
		}
		if updated {
			p.opts.printf("node %s annotated\n", p.node)
		} else {
			p.opts.printf("node %s up to date\n", p.node)
		}
		return nil
	})
}

func inClusterClient() (kubernetes.Interface, error) {
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(cfg)
}

// ServeMetrics implements subcommands.Command for the "serve-metrics" command.
type ServeMetrics struct {
	opts     *globalOptions
	listen   string
	interval time.Duration
}

// Name implements subcommands.Command.Name.
func (*ServeMetrics) Name() string {
	return "serve-metrics"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*ServeMetrics) Synopsis() string {
	return "expose SMU metrics for Prometheus"
}

// Usage implements subcommands.Command.Usage.
func (*ServeMetrics) Usage() string {
	return `serve-metrics [--listen ADDR] [--interval DURATION]

Serves /metrics and reads the PM table every interval until interrupted.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *ServeMetrics) SetFlags(f *flag.FlagSet) {
	f.StringVar(&m.listen, "listen", ":9469", "address to serve metrics on")
	f.DurationVar(&m.interval, "interval", 5*time.Second, "PM table read interval")
}

// Execute implements subcommands.Command.Execute.
func (m *ServeMetrics) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return m.opts.withSMU(func(s smu.SMU) error {
		reg, err := newMetricsRegistry(s)
		if err != nil {
			return err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{Addr: m.listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		logger := ctrllog.Log.WithName("serve-metrics")
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			wait.UntilWithContext(ctx, func(context.Context) {
				if err := refreshPMTable(s); err != nil {
					logger.V(1).Info("PM table read failed", "reason", err.Error())
				}
			}, m.interval)
			return nil
		})
		g.Go(func() error {
			logger.Info("serving metrics", "address", m.listen)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		return g.Wait()
	})
}

// newMetricsRegistry collects the instance metrics together with a static
// info series and the process metrics.
func newMetricsRegistry(s smu.SMU) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := s.RegisterMetrics(reg); err != nil {
		return nil, err
	}

	firmware, err := s.FirmwareVersion()
	if err != nil {
		firmware = "unknown"
	}
	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "smu",
		Name:      "info",
		Help:      "Processor and firmware of the SMU, always 1.",
	}, []string{"codename", "firmware", "driver", "mp1_interface"})
	info.WithLabelValues(s.CodenameString(), firmware, smu.DriverVersion, s.InterfaceVersion().String()).Set(1)
	if err := reg.Register(info); err != nil {
		return nil, err
	}
	return reg, nil
}

func refreshPMTable(s smu.SMU) error {
	buf := make([]byte, smu.PMTableMaxSize)
	_, err := s.ReadPMTable(buf)
	return err
}
