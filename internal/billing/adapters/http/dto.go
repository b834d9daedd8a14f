package http

// CheckoutRequest is the body of POST /billing/checkout.
type CheckoutRequest struct {
	PlanID string `json:"plan_id" validate:"required"`
	Email  string `json:"email" validate:"required,email"`
}

// CheckoutResponse carries the hosted page URL.
type CheckoutResponse struct {
	URL string `json:"url"`
}

// ChangePlanRequest is the body of POST /billing/change-plan.
type ChangePlanRequest struct {
	PlanID string `json:"plan_id" validate:"required"`
}

// GenericErrorResponse for API errors.
type GenericErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
