// Package report turns session failures into categorized backend log entries.
package report

import (
	"context"

	"github.com/grovetools/meetbot/errors"
	"github.com/grovetools/meetbot/pkg/models"
	"github.com/grovetools/meetbot/pkg/provider"
	"github.com/sirupsen/logrus"
)

// Classification is the backend category of a failure.
type Classification struct {
	Category    models.LogCategory
	SubCategory models.LogSubCategory
}

// Classify maps an error to a log category. The second result is false for
// errors that are not reported to the backend.
func Classify(err error, p models.Provider) (Classification, bool) {
	switch {
	case errors.Is(err, errors.ErrCodeAdmission):
		sub := models.SubCategoryTimeout
		if profile, lookupErr := provider.Lookup(p); lookupErr == nil && profile.ContainsDenial(errors.BodyText(err)) {
			sub = models.SubCategoryUserDeniedRequest
		}
		return Classification{Category: models.CategoryWaitingAtLobby, SubCategory: sub}, true

	case errors.Is(err, errors.ErrCodeUnsupported):
		if errors.PageStatus(err) == errors.PageStatusSignIn {
			return Classification{
				Category:    models.CategoryUnsupportedMeeting,
				SubCategory: models.SubCategoryRequiresSignIn,
			}, true
		}
	}
	return Classification{}, false
}

// LogSink receives categorized entries.
type LogSink interface {
	AddLog(ctx context.Context, entry models.LogEntry) bool
}

// Reporter forwards classified failures to a LogSink.
type Reporter struct {
	sink   LogSink
	logger *logrus.Entry
}

// New creates a Reporter.
func New(sink LogSink, logger *logrus.Entry) *Reporter {
	return &Reporter{sink: sink, logger: logger}
}

// Report classifies err and sends it. It returns true only when an entry was
// accepted; unclassified errors are skipped.
func (r *Reporter) Report(ctx context.Context, sess *models.Session, err error) bool {
	if err == nil {
		return false
	}
	class, ok := Classify(err, sess.Provider)
	if !ok {
		r.logger.WithField("code", errors.GetCode(err)).Debug("Error is not reported to the backend")
		return false
	}

	entry := models.LogEntry{
		EventID:     sess.EventID,
		BotID:       sess.BotID,
		Provider:    sess.Provider,
		Level:       models.LogLevelError,
		Message:     message(err),
		Category:    class.Category,
		SubCategory: class.SubCategory,
	}
	log := r.logger.WithFields(logrus.Fields{
		"category":     class.Category,
		"sub_category": class.SubCategory,
	})
	if !r.sink.AddLog(ctx, entry) {
		log.Warn("Failed to report session error")
		return false
	}
	log.Info("Reported session error")
	return true
}

func message(err error) string {
	if botErr, ok := errors.As(err); ok {
		return botErr.Message
	}
	return err.Error()
}
