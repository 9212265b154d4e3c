// Package services provides external service integrations and technical concerns like notifications and tokens
package services

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
)

// NotificationService handles sending notifications via SMS and email
type NotificationService interface {
	SendSMS(mobile, message string) error
	SendEmail(email, subject, message string) error
}

// SMSProvider interface for SMS sending
type SMSProvider interface {
	SendSMS(mobile, message string) error
}

// EmailProvider interface for email sending
type EmailProvider interface {
	SendEmail(email, subject, message string) error
}

// NotificationServiceImpl implements NotificationService
type NotificationServiceImpl struct {
	smsProvider   SMSProvider
	emailProvider EmailProvider
}

// NewNotificationService creates a new notification service
func NewNotificationService(smsProvider SMSProvider, emailProvider EmailProvider) NotificationService {
	return &NotificationServiceImpl{
		smsProvider:   smsProvider,
		emailProvider: emailProvider,
	}
}

// SendSMS sends an SMS message to the specified mobile number
func (s *NotificationServiceImpl) SendSMS(mobile, message string) error {
	if s.smsProvider == nil {
		return fmt.Errorf("SMS provider not configured")
	}

	// Validate mobile format
	if len(mobile) != 13 || mobile[:4] != "+989" {
		return fmt.Errorf("invalid mobile number format: %s", mobile)
	}

	return s.smsProvider.SendSMS(mobile, message)
}

// SendEmail sends an email to the specified email address
func (s *NotificationServiceImpl) SendEmail(email, subject, message string) error {
	if s.emailProvider == nil {
		return fmt.Errorf("email provider not configured")
	}

	// Basic email validation
	if len(email) == 0 || !contains(email, "@") {
		return fmt.Errorf("invalid email address: %s", email)
	}

	return s.emailProvider.SendEmail(email, subject, message)
}

// AdminNotificationService pushes workflow recovery outcomes to the on-call
// admin. Delivery failures are logged, never propagated into the recovery
// pass.
type AdminNotificationService struct {
	notifications NotificationService
	adminMobile   string
	adminEmail    string
}

// NewAdminNotificationService creates a new admin notification service
func NewAdminNotificationService(notifications NotificationService, adminMobile, adminEmail string) *AdminNotificationService {
	return &AdminNotificationService{
		notifications: notifications,
		adminMobile:   adminMobile,
		adminEmail:    adminEmail,
	}
}

// NotifySagaRecovery reports one resolved saga to operations staff
func (s *AdminNotificationService) NotifySagaRecovery(ctx context.Context, sagaID uuid.UUID, encounterID uint, outcome, detail string) error {
	message := fmt.Sprintf("Workflow recovery: saga %s for encounter %d resolved as %s. %s",
		sagaID, encounterID, outcome, detail)

	if s.adminMobile != "" {
		if err := s.notifications.SendSMS(s.adminMobile, message); err != nil {
			log.Printf("admin SMS notification failed: %v", err)
		}
	}
	if s.adminEmail != "" {
		if err := s.notifications.SendEmail(s.adminEmail, "Workflow recovery report", message); err != nil {
			log.Printf("admin email notification failed: %v", err)
		}
	}
	return nil
}

// NotifyAmbiguousLink reports a link that needs manual reconciliation
func (s *AdminNotificationService) NotifyAmbiguousLink(ctx context.Context, appointmentID, forwardEncounterID, backwardEncounterID uint) error {
	message := fmt.Sprintf("Link reconciliation needed: appointment %d references encounter %d but encounter %d claims it",
		appointmentID, forwardEncounterID, backwardEncounterID)

	if s.adminMobile != "" {
		if err := s.notifications.SendSMS(s.adminMobile, message); err != nil {
			log.Printf("admin SMS notification failed: %v", err)
		}
	}
	if s.adminEmail != "" {
		if err := s.notifications.SendEmail(s.adminEmail, "Link reconciliation needed", message); err != nil {
			log.Printf("admin email notification failed: %v", err)
		}
	}
	return nil
}

type MockSMSProvider struct{}

func NewMockSMSProvider() SMSProvider {
	return &MockSMSProvider{}
}

func (p *MockSMSProvider) SendSMS(mobile, message string) error {
	log.Printf("SMS sent to %s: %s", mobile, message)
	return nil
}

type MockEmailProvider struct{}

func NewMockEmailProvider() EmailProvider {
	return &MockEmailProvider{}
}

func (p *MockEmailProvider) SendEmail(email, subject, message string) error {
	log.Printf("Email sent to %s [%s]: %s", email, subject, message)
	return nil
}

type IranianSMSProvider struct {
	apiKey     string
	fromNumber string
}

func NewIranianSMSProvider(apiKey, fromNumber string) SMSProvider {
	return &IranianSMSProvider{
		apiKey:     apiKey,
		fromNumber: fromNumber,
	}
}

func (p *IranianSMSProvider) SendSMS(mobile, message string) error {
	// Implementation would integrate with Iranian SMS providers like:
	// - Kavenegar
	// - SMS.ir
	// - Payamak

	log.Printf("Sending SMS via Iranian provider to %s: %s", mobile, message)

	return nil
}

type SMTPEmailProvider struct {
	host      string
	port      int
	username  string
	password  string
	fromEmail string
}

func NewSMTPEmailProvider(host string, port int, username, password, fromEmail string) EmailProvider {
	return &SMTPEmailProvider{
		host:      host,
		port:      port,
		username:  username,
		password:  password,
		fromEmail: fromEmail,
	}
}

func (p *SMTPEmailProvider) SendEmail(email, subject, message string) error {
	// Implementation would use net/smtp package or a library like gomail

	log.Printf("Sending email via SMTP to %s [%s]: %s", email, subject, message)

	return nil
}

// Helper function
func contains(str, substr string) bool {
	for i := 0; i <= len(str)-len(substr); i++ {
		if str[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
