// handlers/dto.go
package handlers

type CreateAccountRequest struct {
	ReferralCode string `json:"referral_code" validate:"omitempty,max=32"`
}

type DepositRequest struct {
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	PhoneNumber string `json:"phone_number" validate:"omitempty,max=20"`
}

type WithdrawalRequestBody struct {
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	PhoneNumber string `json:"phone_number" validate:"required,max=20"`
}

type CreateTaskRequest struct {
	Title        string `json:"title" validate:"required,max=200"`
	Description  string `json:"description" validate:"max=2000"`
	Platform     string `json:"platform" validate:"required,oneof=tiktok instagram_follow instagram_reel"`
	Link         string `json:"link" validate:"required,url"`
	RewardAmount int64  `json:"reward_amount" validate:"required,gt=0"`
	ThumbnailURL string `json:"thumbnail_url" validate:"omitempty,url"`
}

type ResolveWithdrawalRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=completed rejected"`
}
