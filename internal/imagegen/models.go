package imagegen

const (
	StatusDone       = "done"
	StatusProcessing = "processing"
	StatusFailed     = "failed"
)

// SubmitResponse is the API's answer to an image submission: either an
// immediate result or an acknowledgment that the result arrives on the
// callback URL.
type SubmitResponse struct {
	GenerationID string `json:"id_gen"`
	Status       string `json:"status"`
	ResultURL    string `json:"result_url,omitempty"`
}

// CallbackNotification is the out-of-band result delivered to the webhook.
type CallbackNotification struct {
	GenerationID string `json:"id_gen"`
	Status       string `json:"status"`
	ResultURL    string `json:"result_url,omitempty"`
}
