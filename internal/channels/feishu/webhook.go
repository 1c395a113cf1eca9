package feishu

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// NewWebhookHandler returns the HTTP handler for the webhook connection
// mode: it answers the platform's url_verification challenge, decrypts
// pushes when an encrypt key is configured, checks the verification
// token, and forwards message events to onEvent.
func NewWebhookHandler(verificationToken, encryptKey string, onEvent func(*MessageEvent)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}

		// Encrypted pushes arrive as {"encrypt": "<base64>"}.
		var envelope struct {
			Encrypt string `json:"encrypt"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Encrypt != "" {
			if encryptKey == "" {
				slog.Warn("feishu webhook: encrypted push but no encrypt key configured")
				http.Error(w, "encryption not configured", http.StatusBadRequest)
				return
			}
			decrypted, decErr := decryptEvent(envelope.Encrypt, encryptKey)
			if decErr != nil {
				slog.Warn("feishu webhook: decrypt failed", "error", decErr)
				http.Error(w, "decrypt failed", http.StatusBadRequest)
				return
			}
			body = decrypted
		}

		// URL verification handshake (sent once when the webhook is saved).
		var challenge struct {
			Type      string `json:"type"`
			Token     string `json:"token"`
			Challenge string `json:"challenge"`
		}
		if json.Unmarshal(body, &challenge) == nil && challenge.Type == "url_verification" {
			if verificationToken != "" && challenge.Token != verificationToken {
				http.Error(w, "token mismatch", http.StatusForbidden)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"challenge": challenge.Challenge})
			return
		}

		var event MessageEvent
		if err := json.Unmarshal(body, &event); err != nil {
			http.Error(w, "bad event", http.StatusBadRequest)
			return
		}
		if verificationToken != "" && event.Header.Token != verificationToken {
			http.Error(w, "token mismatch", http.StatusForbidden)
			return
		}

		// Acknowledge before processing: the platform retries on slow
		// responses, and dedupe upstream handles any that slip through.
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":0}`))

		if event.Header.EventType == "im.message.receive_v1" {
			go onEvent(&event)
		}
	}
}

// decryptEvent reverses the platform's AES-256-CBC envelope: the key is
// sha256(encryptKey), the IV is the first block of the decoded payload.
func decryptEvent(encoded, encryptKey string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}
	if len(data) < aes.BlockSize*2 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d invalid", len(data))
	}

	key := sha256.Sum256([]byte(encryptKey))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	iv, ciphertext := data[:aes.BlockSize], data[aes.BlockSize:]
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	// Strip PKCS#7 padding.
	pad := int(plain[len(plain)-1])
	if pad < 1 || pad > aes.BlockSize || pad > len(plain) {
		return nil, fmt.Errorf("bad padding")
	}
	return plain[:len(plain)-pad], nil
}
