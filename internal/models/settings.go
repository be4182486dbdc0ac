package models

// NotificationSettings is the persisted user notification preference set
type NotificationSettings struct {
	NotificationsEnabled           bool    `json:"notificationsEnabled"`
	SoundEnabled                   bool    `json:"soundEnabled"`
	SoundVolume                    float64 `json:"soundVolume"` // 0..1
	VibrationEnabled               bool    `json:"vibrationEnabled"`
	MissedCallNotificationsEnabled bool    `json:"missedCallNotificationsEnabled"`

	ActivityWarningEnabled   bool `json:"activityWarningEnabled"`
	ActivityWarningThreshold int  `json:"activityWarningThreshold"` // percent
}

// DefaultNotificationSettings returns the settings used when nothing has
// been persisted yet or the persisted blob is unreadable
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		NotificationsEnabled:           true,
		SoundEnabled:                   true,
		SoundVolume:                    0.7,
		VibrationEnabled:               true,
		MissedCallNotificationsEnabled: true,
		ActivityWarningEnabled:         true,
		ActivityWarningThreshold:       60,
	}
}
