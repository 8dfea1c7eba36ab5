package notification

import (
	"fmt"
)

// NotificationManager routes notices to the notifiers registered for their
// delivery systems.
type NotificationManager struct {
	notifiers map[NotificationSystem]Notifier
	registry  map[NoticeType]map[NotificationSystem]NoticeTemplate
}

func NewNotificationManager() *NotificationManager {
	return &NotificationManager{
		notifiers: make(map[NotificationSystem]Notifier),
		registry:  make(map[NoticeType]map[NotificationSystem]NoticeTemplate),
	}
}

// RegisterNotifier registers a notifier for a delivery system.
func (nm *NotificationManager) RegisterNotifier(system NotificationSystem, notifier Notifier) {
	nm.notifiers[system] = notifier
}

// HasNotifier reports whether a notifier is registered for the system.
func (nm *NotificationManager) HasNotifier(system NotificationSystem) bool {
	_, ok := nm.notifiers[system]
	return ok
}

// RegisterNotification adds a template for a notice type on one system.
func (nm *NotificationManager) RegisterNotification(noticeType NoticeType, system NotificationSystem, template NoticeTemplate) error {
	if noticeType == "" || system == "" {
		return fmt.Errorf("invalid input: notice type and system cannot be empty")
	}
	if _, exists := nm.registry[noticeType]; !exists {
		nm.registry[noticeType] = make(map[NotificationSystem]NoticeTemplate)
	}
	nm.registry[noticeType][system] = template
	return nil
}

// Send delivers a notice over one system.
func (nm *NotificationManager) Send(noticeType NoticeType, system NotificationSystem, data NotificationData) error {
	systemTemplates, exists := nm.registry[noticeType]
	if !exists {
		return fmt.Errorf("no templates registered for notice type: %s", noticeType)
	}
	template, exists := systemTemplates[system]
	if !exists {
		return fmt.Errorf("no template registered for system %s under notice type %s", system, noticeType)
	}
	notifier, exists := nm.notifiers[system]
	if !exists {
		return fmt.Errorf("no notifier registered for system: %s", system)
	}
	return notifier.Send(noticeType, data, template)
}
