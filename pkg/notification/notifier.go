package notification

// NotificationSystem represents a delivery system (e.g. email, SMS).
type NotificationSystem string

// NoticeType identifies a kind of notice (e.g. "verification_code").
type NoticeType string

const (
	EmailSystem NotificationSystem = "email"
	SMSSystem   NotificationSystem = "sms"
)

const (
	// VerificationCodeNotice carries a contact-verification OTP.
	VerificationCodeNotice NoticeType = "verification_code"
	// MfaCodeNotice carries a login second-factor OTP.
	MfaCodeNotice NoticeType = "mfa_code"
	// VerificationInstructionsNotice carries reply-token instructions for
	// inbound channels.
	VerificationInstructionsNotice NoticeType = "verification_instructions"
)

// NotificationData is the payload handed to a notifier.
type NotificationData struct {
	To      string            // recipient identifier (email address, phone number)
	Subject string            // optional subject override
	Body    string            // pre-rendered body, used when no template applies
	Data    map[string]string // template data
}

// NoticeTemplate holds the renderable content registered for a notice type.
type NoticeTemplate struct {
	Subject string
	Text    string
	Html    string
}

// Notifier delivers a rendered notice over one system.
type Notifier interface {
	Send(noticeType NoticeType, notification NotificationData, template NoticeTemplate) error
}
