package client

import "github.com/sirupsen/logrus"

// Observer is the interface to the presentation layer. The core only pushes
// into it; it never reads UI state back.
type Observer interface {
	// UpdatePeerList replaces the displayed list of branch identities.
	UpdatePeerList(branches []string)

	// UpdateRates replaces the displayed exchange-rate snapshot.
	UpdateRates(text string)

	// AppendLog appends one line to the transaction log.
	AppendLog(text string)

	// ShowAlert surfaces a pushed notification alert.
	ShowAlert(text string)

	// SetNotificationPane replaces the notification pane content.
	SetNotificationPane(text string)
}

// LogObserver is an Observer that writes everything to the log. It stands in
// wherever no real presentation layer is attached.
type LogObserver struct {
	logger *logrus.Entry
}

// NewLogObserver ...
func NewLogObserver(logger *logrus.Entry) *LogObserver {
	return &LogObserver{logger: logger.WithField("component", "observer")}
}

// UpdatePeerList implements the Observer interface.
func (o *LogObserver) UpdatePeerList(branches []string) {
	o.logger.WithField("branches", branches).Info("Peer list updated")
}

// UpdateRates implements the Observer interface.
func (o *LogObserver) UpdateRates(text string) {
	o.logger.Info(text)
}

// AppendLog implements the Observer interface.
func (o *LogObserver) AppendLog(text string) {
	o.logger.Info(text)
}

// ShowAlert implements the Observer interface.
func (o *LogObserver) ShowAlert(text string) {
	o.logger.Warn(text)
}

// SetNotificationPane implements the Observer interface.
func (o *LogObserver) SetNotificationPane(text string) {
	o.logger.Info(text)
}
