package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"rewards-ledger/logger"

	"github.com/sirupsen/logrus"
)

// PaymentInstruction is what the member's handset dials to pay a deposit.
// The rail never answers synchronously; settlement arrives later through
// DepositProcessor.Confirm or Fail.
type PaymentInstruction struct {
	DepositID    string `json:"deposit_id"`
	MerchantCode string `json:"merchant_code"`
	Amount       int64  `json:"amount"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	DialString   string `json:"dial_string"`
}

// PaymentRail hands an instruction to the mobile-money operator.
type PaymentRail interface {
	Initiate(ctx context.Context, instruction PaymentInstruction) error
}

// DialString formats the MTN MoMo merchant-pay USSD code.
func DialString(merchantCode string, amount int64) string {
	return fmt.Sprintf("*182*8*1*%s*%d#", merchantCode, amount)
}

func NewPaymentInstruction(depositID, merchantCode string, amount int64, phone string) PaymentInstruction {
	return PaymentInstruction{
		DepositID:    depositID,
		MerchantCode: merchantCode,
		Amount:       amount,
		PhoneNumber:  phone,
		DialString:   DialString(merchantCode, amount),
	}
}

// USSDRail is the production rail: the member dials the code on their own
// handset, so initiation only records that the instruction was issued.
type USSDRail struct{}

func (USSDRail) Initiate(_ context.Context, in PaymentInstruction) error {
	logger.WithFields(logrus.Fields{
		"deposit": in.DepositID,
		"amount":  in.Amount,
		"phone":   in.PhoneNumber,
		"dial":    in.DialString,
	}).Info("payment instruction issued")
	return nil
}

var phonePattern = regexp.MustCompile(`^07\d{8}$`)

// NormalizePhone accepts 07XXXXXXXX, 2507XXXXXXXX and +2507XXXXXXXX and
// returns the local 07XXXXXXXX form.
func NormalizePhone(raw string) (string, error) {
	phone := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(raw))
	phone = strings.TrimPrefix(phone, "+")
	if strings.HasPrefix(phone, "250") && len(phone) == 12 {
		phone = "0" + phone[3:]
	}
	if !phonePattern.MatchString(phone) {
		return "", newError(KindValidation, "phone number %q is not a valid mobile money number (expected 07XXXXXXXX)", raw)
	}
	return phone, nil
}
