package paymentprovider

// CheckoutCustomer — данные покупателя, подставляемые в форму оплаты.
type CheckoutCustomer struct {
	Email string `json:"email,omitempty"`
}

// CreateCheckoutRequest — запрос на создание сессии оплаты.
type CreateCheckoutRequest struct {
	ProductID  string            `json:"product_id" validate:"required"`
	RequestID  string            `json:"request_id,omitempty"`
	SuccessURL string            `json:"success_url,omitempty"`
	Customer   *CheckoutCustomer `json:"customer,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// CreateCheckoutResponse — ответ провайдера с адресом страницы оплаты.
type CreateCheckoutResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	CheckoutURL string `json:"checkout_url"`
}

// SubscriptionResponse — состояние подписки у провайдера после отмены или возобновления.
type SubscriptionResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Message any `json:"message"`
}
