package services

import (
	"fmt"
	"log"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// AlertService notifies bot owners over SMS when their session becomes
// unrecoverable and needs re-pairing. Entirely optional: if Twilio is not
// configured the manager runs without it.
type AlertService struct {
	client *twilio.RestClient
	from   string
}

// NewAlertService creates the alert service from TWILIO_* environment
// variables
func NewAlertService() (*AlertService, error) {
	accountSid := os.Getenv("TWILIO_ACCOUNT_SID")
	authToken := os.Getenv("TWILIO_AUTH_TOKEN")
	from := os.Getenv("TWILIO_PHONE_NUMBER")

	if accountSid == "" || authToken == "" || from == "" {
		return nil, fmt.Errorf("missing Twilio credentials in environment variables")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSid,
		Password: authToken,
	})

	return &AlertService{client: client, from: from}, nil
}

// SendRepairAlert tells the owner their bot was logged out and must be
// paired again
func (a *AlertService) SendRepairAlert(toPhone, botName, reason string) error {
	body := fmt.Sprintf("⚠️ %s was disconnected from WhatsApp (%s). Open the dashboard and pair it again.", botName, reason)

	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(a.from)
	params.SetTo("+" + toPhone)
	params.SetBody(body)

	resp, err := a.client.Api.CreateMessage(params)
	if err != nil {
		log.Printf("❌ Failed to send re-pair alert: %v", err)
		return err
	}

	log.Printf("✅ Re-pair alert sent! SID: %s", *resp.Sid)
	return nil
}
