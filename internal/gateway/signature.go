package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns hex(HMAC-SHA256(secret, payload)), the construction the
// gateway uses for both checkout and webhook signatures.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// PaymentSignaturePayload is the signed text of a checkout callback.
func PaymentSignaturePayload(orderID, paymentID string) []byte {
	return []byte(orderID + "|" + paymentID)
}

func equalSignature(expected, got string) bool {
	return hmac.Equal([]byte(expected), []byte(got))
}

// VerifyPaymentSignature checks a client-submitted (order, payment, signature)
// triple against the key secret.
func (c *Client) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	if orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	ok := equalSignature(Sign(c.keySecret, PaymentSignaturePayload(orderID, paymentID)), signature)
	level := c.log.Info
	if !ok {
		level = c.log.Warn
	}
	level("signature verification", "op", "signature_verification",
		"order_id", orderID, "payment_id", paymentID, "is_valid", ok)
	return ok
}

// VerifyWebhookSignature hashes the raw, unparsed body. Without a configured
// webhook secret every delivery is rejected.
func (c *Client) VerifyWebhookSignature(rawBody []byte, signature string) bool {
	if c.webhookSecret == "" {
		c.log.Warn("webhook verification rejected", "op", "webhook_verification", "reason", "no webhook secret configured")
		return false
	}
	if signature == "" {
		return false
	}
	ok := equalSignature(Sign(c.webhookSecret, rawBody), signature)
	if !ok {
		c.log.Warn("webhook verification", "op", "webhook_verification", "is_valid", false)
	}
	return ok
}
