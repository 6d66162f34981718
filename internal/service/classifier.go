package service

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/liliang-cn/ragchat/internal/domain"
	"github.com/liliang-cn/ragchat/internal/metrics"
	"go.uber.org/zap"
)

// ErrorKind is the stable type string sent with an error event
type ErrorKind string

const (
	KindIndexMissing    ErrorKind = "index_missing"
	KindQuotaExceeded   ErrorKind = "quota_exceeded"
	KindConnectionError ErrorKind = "connection_error"
	KindIndexBuilding   ErrorKind = "index_building"
	KindIndexError      ErrorKind = "index_error"
	KindUnknown         ErrorKind = "unknown"
)

// User-facing messages, one per kind
const (
	msgIndexMissing    = "The search index for this collection is missing. The administrator has been notified."
	msgQuotaExceeded   = "The AI service quota has been exceeded. Please try again later."
	msgConnectionError = "We could not reach a required service. Please try again shortly."
	msgSearchDown      = "We could not reach the search service. Please try again shortly."
	msgModelDown       = "We could not reach the AI service. Please try again shortly."
	msgIndexBuilding   = "The service is temporarily unavailable while an index is being built. Please retry in a moment."
	msgIndexError      = "An error occurred while reading stored data. The administrator has been notified."
	msgUnknown         = "Something went wrong. Please try again."
)

const alertTimeout = 10 * time.Second

// Classification is the user-safe outcome of classifying an error
type Classification struct {
	Kind           ErrorKind
	Message        string
	NotifyOperator bool
	IsBuilding     bool
}

// rule matches one kind, first by error type and then by message text
type rule struct {
	kind  ErrorKind
	typed func(error) bool
	text  []string
}

var rules = []rule{
	{
		kind:  KindIndexMissing,
		typed: func(err error) bool { return errors.Is(err, domain.ErrIndexNotFound) },
		text:  []string{"index not found", "no such index"},
	},
	{
		kind:  KindQuotaExceeded,
		typed: isQuota,
		text:  []string{"429", "quota", "rate limit", "too many requests"},
	},
	{
		kind:  KindConnectionError,
		typed: isConnectivity,
		text:  []string{"connection refused", "econnrefused", "no such host", "connection reset", "dial tcp"},
	},
	{
		kind:  KindIndexBuilding,
		typed: func(err error) bool { return errors.Is(err, domain.ErrStoreIndexBuilding) },
		text:  []string{"index is building", "index is being built", "index build in progress"},
	},
	{
		kind:  KindIndexError,
		typed: func(err error) bool { return errors.Is(err, domain.ErrStoreIndex) },
		text:  []string{"requires an index", "failed_precondition"},
	},
}

// Classify maps an error to its classification. Typed matches across all
// rules take precedence over message text; within a pass the first rule wins.
func Classify(err error) Classification {
	for _, r := range rules {
		if r.typed(err) {
			return classification(r.kind, err)
		}
	}

	msg := strings.ToLower(err.Error())
	for _, r := range rules {
		if containsAny(msg, r.text...) {
			return classification(r.kind, err)
		}
	}
	return classification(KindUnknown, err)
}

func classification(kind ErrorKind, err error) Classification {
	switch kind {
	case KindIndexMissing:
		return Classification{Kind: kind, Message: msgIndexMissing, NotifyOperator: true}
	case KindQuotaExceeded:
		return Classification{Kind: kind, Message: msgQuotaExceeded, NotifyOperator: true}
	case KindConnectionError:
		return Classification{Kind: kind, Message: connectionMessage(err), NotifyOperator: true}
	case KindIndexBuilding:
		return Classification{Kind: kind, Message: msgIndexBuilding, IsBuilding: true}
	case KindIndexError:
		return Classification{Kind: kind, Message: msgIndexError, NotifyOperator: true}
	}
	return Classification{Kind: KindUnknown, Message: msgUnknown}
}

// connectionMessage names the unreachable side when the error says which
func connectionMessage(err error) string {
	var (
		retErr *domain.RetrievalError
		genErr *domain.GenerationError
	)
	switch {
	case errors.As(err, &retErr):
		return msgSearchDown
	case errors.As(err, &genErr):
		return msgModelDown
	}
	return msgConnectionError
}

func isQuota(err error) bool {
	if errors.Is(err, domain.ErrGenerationQuota) {
		return true
	}
	var genErr *domain.GenerationError
	return errors.As(err, &genErr) && genErr.StatusCode == 429
}

func isConnectivity(err error) bool {
	if errors.Is(err, domain.ErrConnectivity) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ErrorClassifier classifies failures, records them and alerts operators
type ErrorClassifier struct {
	alert   OperatorAlert
	runner  TaskRunner
	metrics *metrics.StreamMetrics
	logger  *zap.Logger
}

// NewErrorClassifier creates a classifier; alert and runner may be nil
func NewErrorClassifier(alert OperatorAlert, runner TaskRunner, m *metrics.StreamMetrics, logger *zap.Logger) *ErrorClassifier {
	if runner == nil {
		runner = goRunner{}
	}
	return &ErrorClassifier{alert: alert, runner: runner, metrics: m, logger: logger}
}

// Report classifies err, logs it, and fires an operator alert in the
// background when the classification calls for one.
func (c *ErrorClassifier) Report(err error, fields map[string]string) Classification {
	cl := Classify(err)

	zf := []zap.Field{zap.String("type", string(cl.Kind)), zap.Error(err)}
	for k, v := range fields {
		zf = append(zf, zap.String(k, v))
	}
	if cl.IsBuilding {
		c.logger.Warn("stream failed on transient store state", zf...)
	} else {
		c.logger.Error("stream failed", zf...)
	}
	c.metrics.RecordError(string(cl.Kind))

	if cl.NotifyOperator {
		c.notify(cl, err, fields)
	}
	return cl
}

func (c *ErrorClassifier) notify(cl Classification, cause error, fields map[string]string) {
	if c.alert == nil {
		return
	}

	subject := "ragchat: " + string(cl.Kind)
	body := cause.Error()
	c.runner.Go("operator-alert", func() {
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		defer cancel()

		if err := c.alert.Notify(ctx, subject, body, fields); err != nil {
			c.logger.Warn("operator alert failed",
				zap.String("subject", subject),
				zap.Error(err),
			)
		}
	})
}
