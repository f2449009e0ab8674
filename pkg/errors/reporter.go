package errors

import (
	"bytes"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/certifi/gocertifi"
	"github.com/getsentry/sentry-go"
	"moff.io/snap-bridge/pkg/errors/reporter"
	"moff.io/snap-bridge/pkg/log"
)

var (
	reportersMu sync.RWMutex
	reporters   []Reporter
)

// Setting DEBUG disables every reporter.
const debugMode = "DEBUG"

func init() {
	if os.Getenv(debugMode) == "" {
		log.Info("Env DEBUG not set, report errors enabled.")
	} else {
		log.Info("Env DEBUG set, report errors disabled.")
	}
}

// Reporter forwards errors to an alerting channel.
type Reporter interface {
	Report(error)
}

// AddReporter registers r. Mostly useful for tests and custom sinks.
func AddReporter(r Reporter) {
	reportersMu.Lock()
	defer reportersMu.Unlock()
	reporters = append(reporters, r)
}

// ResetReporters drops every registered reporter.
func ResetReporters() {
	reportersMu.Lock()
	defer reportersMu.Unlock()
	reporters = nil
}

func report(err error) {
	if err == nil || os.Getenv(debugMode) != "" {
		return
	}
	reportersMu.RLock()
	defer reportersMu.RUnlock()
	for _, r := range reporters {
		r.Report(err)
	}
}

type sentryReporter struct{}

func (s *sentryReporter) Report(err error) {
	sentry.CaptureException(err)
}

// NewSentryReporter initialises the sentry client and registers it. An empty DSN is a no-op.
func NewSentryReporter(sentryDSN string) error {
	if sentryDSN == "" {
		log.Warn("empty DSN found, skipping sentry reporter initialization.")
		return nil
	}
	rootCAs, err := gocertifi.CACerts()
	if err != nil {
		return Wrap(err, "init sentry CA")
	}
	err = sentry.Init(sentry.ClientOptions{
		Dsn:     sentryDSN,
		CaCerts: rootCAs,
	})
	if err != nil {
		return Wrap(err, "init sentry")
	}
	log.Info("sentry error reporter initialized.")
	AddReporter(&sentryReporter{})
	return nil
}

type dingTalkRobotReporter struct {
	limiter *rateLimiter
	reporter.DingTalkRobot
}

// NewDingTalkReporter registers a DingTalk robot; the same failure site is reported at most once per reportDelay.
func NewDingTalkReporter(webhook, secret string, reportDelay time.Duration) {
	if webhook == "" {
		log.Warn("empty dingtalk webhook found, skipping dingtalk reporter initialization.")
		return
	}
	robot := reporter.NewDingTalkRobot(webhook).WithSecret(secret)
	AddReporter(&dingTalkRobotReporter{limiter: newRateLimiter(reportDelay), DingTalkRobot: robot})
	log.Info("dingtalk error reporter initialized.")
}

const (
	errorField  = "error: "
	stacksField = "\nstacks:\n"
	breakline   = "\n"
	indent      = "	"
)

func (r *dingTalkRobotReporter) Report(err error) {
	if err == nil {
		return
	}
	stacks := callers().fullStack()
	limited, stats := r.limiter.StackBasedRateLimited(stacks[2])
	if limited {
		return
	}
	var content bytes.Buffer
	content.WriteString("snap-bridge last report:")
	content.WriteString(formatReportTime(stats.lastReportTime))
	content.WriteString(breakline)
	content.WriteString("occur since last report:")
	content.WriteString(strconv.Itoa(stats.occurCountSinceLastReport))
	content.WriteString(breakline)
	content.WriteString(errorField)
	content.WriteString(err.Error())
	content.WriteString(stacksField)
	for _, s := range stacks {
		content.WriteString(indent)
		content.WriteString(s)
		content.WriteString(breakline)
	}
	if err := r.SendText(content.String(), nil, true); err != nil {
		log.Info(WithStack(err))
	}
}
