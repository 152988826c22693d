package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// AppStoreNotificationWrapper represents the outer wrapper of App Store Server Notification V2
// Apple sends notifications as a JWS in the signedPayload field
type AppStoreNotificationWrapper struct {
	SignedPayload string `json:"signedPayload"`
}

// AppStoreNotification is the decoded signedPayload.
// Apple uses camelCase for field names
type AppStoreNotification struct {
	jwt.RegisteredClaims

	NotificationType string           `json:"notificationType"` // e.g., "SUBSCRIBED", "DID_RENEW"
	Subtype          string           `json:"subtype,omitempty"`
	NotificationUUID string           `json:"notificationUUID"`
	Version          string           `json:"version,omitempty"`
	SignedDate       int64            `json:"signedDate"` // milliseconds since epoch
	Data             NotificationData `json:"data"`
}

// NotificationData contains notification data
type NotificationData struct {
	AppAppleID            int64  `json:"appAppleId"`
	BundleID              string `json:"bundleId"`
	BundleVersion         string `json:"bundleVersion"`
	Environment           string `json:"environment"` // "Sandbox" or "Production"
	SignedTransactionInfo string `json:"signedTransactionInfo"`
	SignedRenewalInfo     string `json:"signedRenewalInfo,omitempty"`
}

// TransactionInfo is the decoded JWS transaction, either from a notification
// or submitted directly by the SDK.
type TransactionInfo struct {
	jwt.RegisteredClaims

	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	BundleID              string `json:"bundleId"`
	ProductID             string `json:"productId"`
	Type                  string `json:"type"`         // "Auto-Renewable Subscription", "Non-Consumable", ...
	PurchaseDate          int64  `json:"purchaseDate"` // milliseconds since epoch
	ExpiresDate           int64  `json:"expiresDate,omitempty"`
	RevocationDate        int64  `json:"revocationDate,omitempty"`
	AppAccountToken       string `json:"appAccountToken,omitempty"`
	Environment           string `json:"environment"`
}
