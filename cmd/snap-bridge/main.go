package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"moff.io/snap-bridge/internal/aws"
	"moff.io/snap-bridge/internal/bridge"
	"moff.io/snap-bridge/internal/cache"
	"moff.io/snap-bridge/internal/chain"
	"moff.io/snap-bridge/internal/config"
	"moff.io/snap-bridge/internal/database"
	"moff.io/snap-bridge/internal/databus"
	"moff.io/snap-bridge/internal/http"
	"moff.io/snap-bridge/internal/snap"
	"moff.io/snap-bridge/internal/starter"
	"moff.io/snap-bridge/pkg/errors"
	"moff.io/snap-bridge/pkg/log"
)

func main() {
	log.Infof("Starting app")
	startApp()
}

func startApp() {
	defer func() {
		if i := recover(); i != nil {
			log.Fatal(errors.ErrorfAndReport("%v", i))
		}
	}()
	config.Read()
	conf := config.Global
	log.SetLevel(conf.LogLevel)
	setupReporters(conf)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	transport, err := snap.NewWSTransport(snap.WSOptions{
		BridgeURL:   conf.Snap.BridgeURL,
		SnapID:      conf.Snap.Origin,
		RequestRate: conf.Snap.RequestRate,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer transport.Close()

	opts := bridge.Options{
		Client:   snap.NewClient(transport, conf.Snap.Origin, conf.Snap.Version),
		Dial:     chain.DialEthClient,
		Flippers: map[string]common.Address{},
	}
	for network, address := range conf.Flipper {
		if !common.IsHexAddress(address) {
			log.Fatalf("flipper address for %v is not an address: %v", network, address)
		}
		opts.Flippers[network] = common.HexToAddress(address)
	}

	var (
		serverOpts []http.Option
		startables []starter.Startable
	)
	if conf.MaxInFlight > 0 {
		serverOpts = append(serverOpts, http.WithMaxInFlight(conf.MaxInFlight))
	}
	if conf.RedisCredential.Enabled() {
		cache.Init(&conf.RedisCredential)
		defer cache.Close()
		opts.Metadata = cache.NewMetadataCache(cache.Redis, conf.MetadataCacheTTL)
		if conf.APIRatePerSecond > 0 {
			serverOpts = append(serverOpts, http.WithLimiter(cache.NewAPILimiter(cache.RateLimiter, conf.APIRatePerSecond)))
		}
	}
	if conf.Postgres.Enabled() {
		database.InitPostgres(&conf.Postgres)
		defer database.Close()
		audit := database.NewAuditWriter(database.Postgres)
		startables = append(startables, audit)
		opts.Recorders = append(opts.Recorders, audit)
		serverOpts = append(serverOpts, http.WithAudit(database.Postgres))
	}
	if conf.KafkaServer != "" {
		databus.InitDataBus(conf.KafkaServer)
		defer databus.GetDataBus().Close()
		opts.Recorders = append(opts.Recorders, databus.NewSessionPublisher(databus.GetDataBus(), conf.KafkaTopic))
	}
	if conf.Aws.Enabled() {
		aws.Init(conf.Aws.Region, conf.Aws.KeystoreBucket, conf.Aws.PasswordParam)
		opts.Keystore = aws.Client
	}

	b := bridge.New(opts)
	defer b.Close()
	serverOpts = append(serverOpts, http.WithPairer(transport))

	starter.Start(ctx, append(startables, http.NewServer(b, serverOpts...))...)
	log.Infof("snap relay pairing uri: %v", transport.Pairing().URI())

	<-ctx.Done()
	log.Infof("Shutting down")
}

func setupReporters(conf *config.Configuration) {
	if conf.SentryDSN != "" {
		if err := errors.NewSentryReporter(conf.SentryDSN); err != nil {
			log.Errorf("sentry reporter:%v", err)
		}
	}
	if conf.LarkAlarmWebhook != "" {
		errors.NewLarkReporter(conf.LarkAlarmWebhook, conf.ReportSilence)
	}
	if conf.DingTalk.Webhook != "" {
		errors.NewDingTalkReporter(conf.DingTalk.Webhook, conf.DingTalk.Secret, conf.ReportSilence)
	}
}
