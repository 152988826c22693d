package services

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"purchase-sync/internal/models"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignatureVerifier App Store JWS 签名验证器
// 校验 x5c 证书链，返回叶子证书公钥用于验证 ES256 签名
type SignatureVerifier struct {
	certCache map[string]*x509.Certificate
	mutex     sync.RWMutex
	roots     *x509.CertPool // 为空时按证书名称识别苹果根证书
	now       func() time.Time
}

// NewSignatureVerifier 创建新的签名验证器
func NewSignatureVerifier() *SignatureVerifier {
	return NewSignatureVerifierWithRoots(nil)
}

// NewSignatureVerifierWithRoots 使用指定的根证书创建签名验证器
func NewSignatureVerifierWithRoots(roots *x509.CertPool) *SignatureVerifier {
	return &SignatureVerifier{
		certCache: make(map[string]*x509.Certificate),
		roots:     roots,
		now:       time.Now,
	}
}

// Keyfunc 验证 JWS 头部的证书链并返回签名公钥
func (v *SignatureVerifier) Keyfunc(token *jwt.Token) (interface{}, error) {
	rawChain, ok := token.Header["x5c"].([]interface{})
	if !ok || len(rawChain) == 0 {
		return nil, fmt.Errorf("missing x5c header")
	}

	encoded := make([]string, 0, len(rawChain))
	for _, item := range rawChain {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("invalid x5c entry")
		}
		encoded = append(encoded, s)
	}

	// 获取证书链
	certChain, err := v.getCertificateChain(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to get certificate chain: %w", err)
	}

	// 验证证书链
	if err := v.verifyCertificateChain(certChain); err != nil {
		return nil, fmt.Errorf("failed to verify certificate chain: %w", err)
	}

	publicKey, ok := certChain[0].PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certificate does not contain ECDSA public key")
	}
	return publicKey, nil
}

// getCertificateChain 获取证书链
func (v *SignatureVerifier) getCertificateChain(certChain []string) ([]*x509.Certificate, error) {
	certificates := make([]*x509.Certificate, 0, len(certChain))

	for _, certDER := range certChain {
		// 检查缓存
		v.mutex.RLock()
		cert, exists := v.certCache[certDER]
		v.mutex.RUnlock()
		if exists {
			certificates = append(certificates, cert)
			continue
		}

		// 解析证书
		cert, err := parseCertificate(certDER)
		if err != nil {
			return nil, err
		}

		// 缓存证书
		v.mutex.Lock()
		v.certCache[certDER] = cert
		v.mutex.Unlock()

		certificates = append(certificates, cert)
	}

	return certificates, nil
}

// parseCertificate 解析 base64 DER 格式的证书
func parseCertificate(certDER string) (*x509.Certificate, error) {
	der, err := base64.StdEncoding.DecodeString(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to decode certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

// verifyCertificateChain 验证证书链，叶子证书在前
func (v *SignatureVerifier) verifyCertificateChain(certChain []*x509.Certificate) error {
	if len(certChain) == 0 {
		return fmt.Errorf("empty certificate chain")
	}

	if v.roots != nil {
		intermediates := x509.NewCertPool()
		for _, cert := range certChain[1:] {
			intermediates.AddCert(cert)
		}
		_, err := certChain[0].Verify(x509.VerifyOptions{
			Roots:         v.roots,
			Intermediates: intermediates,
			CurrentTime:   v.now(),
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		})
		return err
	}

	now := v.now()
	for i, cert := range certChain {
		// 检查证书是否过期
		if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
			return fmt.Errorf("certificate %d is expired or not yet valid", i)
		}

		// 每张证书由下一张签发
		if i < len(certChain)-1 {
			if err := cert.CheckSignatureFrom(certChain[i+1]); err != nil {
				return fmt.Errorf("certificate %d signature verification failed: %w", i, err)
			}
		}
	}

	// 验证根证书是否为苹果证书
	rootCert := certChain[len(certChain)-1]
	if !isAppleRootCertificate(rootCert) {
		return fmt.Errorf("invalid root certificate: not from Apple")
	}

	return nil
}

// isAppleRootCertificate 检查是否为苹果根证书
func isAppleRootCertificate(cert *x509.Certificate) bool {
	appleSubjects := []string{
		"Apple Root CA",
		"Apple Inc.",
	}

	for _, subject := range appleSubjects {
		if strings.Contains(cert.Subject.String(), subject) {
			return true
		}
	}

	return false
}

// ClearCache 清除证书缓存
func (v *SignatureVerifier) ClearCache() {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	v.certCache = make(map[string]*x509.Certificate)
}

// ErrInvalidSignedData is returned when a JWS cannot be decoded or verified.
var ErrInvalidSignedData = errors.New("invalid signed data")

// JWSDecoder 解析 App Store 签名数据（通知和交易）
type JWSDecoder struct {
	verifier *SignatureVerifier
	verify   bool
}

// NewJWSDecoder 创建解析器；verify 为 false 时跳过签名校验（仅用于开发环境）
func NewJWSDecoder(verifier *SignatureVerifier, verify bool) *JWSDecoder {
	return &JWSDecoder{verifier: verifier, verify: verify}
}

func (d *JWSDecoder) parse(token string, claims jwt.Claims) error {
	if strings.Count(token, ".") != 2 {
		return fmt.Errorf("%w: expected 3 parts", ErrInvalidSignedData)
	}

	if !d.verify {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignedData, err)
		}
		return nil
	}

	_, err := jwt.ParseWithClaims(token, claims, d.verifier.Keyfunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignedData, err)
	}
	return nil
}

// DecodeNotification 解析 signedPayload
func (d *JWSDecoder) DecodeNotification(signedPayload string) (*models.AppStoreNotification, error) {
	var notification models.AppStoreNotification
	if err := d.parse(signedPayload, &notification); err != nil {
		return nil, err
	}
	return &notification, nil
}

// DecodeTransaction 解析 signedTransactionInfo
func (d *JWSDecoder) DecodeTransaction(signedTransaction string) (*models.TransactionInfo, error) {
	var info models.TransactionInfo
	if err := d.parse(signedTransaction, &info); err != nil {
		return nil, err
	}

	// Validate required fields
	if info.TransactionID == "" {
		return nil, fmt.Errorf("%w: transactionId is missing", ErrInvalidSignedData)
	}
	if info.OriginalTransactionID == "" {
		info.OriginalTransactionID = info.TransactionID
	}
	return &info, nil
}

// looksLikeJWS reports whether data has the compact JWS shape.
func looksLikeJWS(data []byte) bool {
	s := string(data)
	if strings.Count(s, ".") != 2 {
		return false
	}
	header := s[:strings.Index(s, ".")]
	_, err := base64.RawURLEncoding.DecodeString(header)
	return err == nil && header != ""
}
