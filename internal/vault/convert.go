package vault

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azcertificates"
)

func thumbprint(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	return strings.ToUpper(hex.EncodeToString(raw))
}

func fromProperties(p *azcertificates.CertificateProperties) Certificate {
	c := Certificate{Enabled: true, Thumbprint: thumbprint(p.X509Thumbprint), Tags: fromTags(p.Tags)}
	if p.ID != nil {
		c.Name = p.ID.Name()
		c.Version = p.ID.Version()
	}
	applyAttributes(&c, p.Attributes)
	return c
}

func fromCertificate(name string, cert azcertificates.Certificate) Certificate {
	c := Certificate{Name: name, Enabled: true, Thumbprint: thumbprint(cert.X509Thumbprint), Tags: fromTags(cert.Tags)}
	if cert.ID != nil {
		c.Version = cert.ID.Version()
	}
	applyAttributes(&c, cert.Attributes)
	return c
}

func applyAttributes(c *Certificate, attrs *azcertificates.CertificateAttributes) {
	if attrs == nil {
		return
	}
	if attrs.Expires != nil {
		c.Expires = attrs.Expires.UTC()
	}
	if attrs.NotBefore != nil {
		c.NotBefore = attrs.NotBefore.UTC()
	}
	if attrs.Enabled != nil {
		c.Enabled = *attrs.Enabled
	}
}

func fromTags(tags map[string]*string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		if v != nil {
			out[k] = *v
		}
	}
	return out
}

func fromPolicy(p azcertificates.CertificatePolicy) RenewalPolicy {
	var rp RenewalPolicy
	if p.IssuerParameters != nil {
		rp.Issuer = deref(p.IssuerParameters.Name)
	}
	if kp := p.KeyProperties; kp != nil {
		if kp.KeyType != nil {
			rp.KeyType = string(*kp.KeyType)
		}
		if kp.KeySize != nil {
			rp.KeySize = *kp.KeySize
		}
		rp.Exportable = kp.Exportable != nil && *kp.Exportable
		rp.ReuseKey = kp.ReuseKey != nil && *kp.ReuseKey
	}
	if xp := p.X509CertificateProperties; xp != nil {
		rp.Subject = deref(xp.Subject)
		if xp.ValidityInMonths != nil {
			rp.ValidityMonths = *xp.ValidityInMonths
		}
		for _, ku := range xp.KeyUsage {
			if ku != nil {
				rp.KeyUsages = append(rp.KeyUsages, string(*ku))
			}
		}
		for _, eku := range xp.EnhancedKeyUsage {
			if eku != nil {
				rp.ExtendedKeyUsages = append(rp.ExtendedKeyUsages, *eku)
			}
		}
	}
	if p.SecretProperties != nil {
		rp.ContentType = deref(p.SecretProperties.ContentType)
	}
	return rp
}

func toPolicy(rp RenewalPolicy) *azcertificates.CertificatePolicy {
	keyType := azcertificates.KeyType(rp.KeyType)
	kp := &azcertificates.KeyProperties{
		KeyType:    &keyType,
		Exportable: to.Ptr(rp.Exportable),
		ReuseKey:   to.Ptr(rp.ReuseKey),
	}
	if rp.KeySize > 0 {
		kp.KeySize = to.Ptr(rp.KeySize)
	}

	xp := &azcertificates.X509CertificateProperties{
		Subject: to.Ptr(rp.Subject),
	}
	if rp.ValidityMonths > 0 {
		xp.ValidityInMonths = to.Ptr(rp.ValidityMonths)
	}
	for _, ku := range rp.KeyUsages {
		xp.KeyUsage = append(xp.KeyUsage, to.Ptr(azcertificates.KeyUsageType(ku)))
	}
	for _, eku := range rp.ExtendedKeyUsages {
		xp.EnhancedKeyUsage = append(xp.EnhancedKeyUsage, to.Ptr(eku))
	}

	policy := &azcertificates.CertificatePolicy{
		IssuerParameters:          &azcertificates.IssuerParameters{Name: to.Ptr(rp.Issuer)},
		KeyProperties:             kp,
		X509CertificateProperties: xp,
	}
	if rp.ContentType != "" {
		policy.SecretProperties = &azcertificates.SecretProperties{ContentType: to.Ptr(rp.ContentType)}
	}
	return policy
}

// fromOperation maps the service's operation status strings. Anything that
// is neither in progress nor completed is terminal and failed.
func fromOperation(name string, started time.Time, op azcertificates.CertificateOperation) Operation {
	out := Operation{
		Certificate: name,
		RequestID:   deref(op.RequestID),
		Started:     started,
	}

	switch strings.ToLower(deref(op.Status)) {
	case "inprogress", "":
		out.Status = StatusInProgress
	case "completed":
		out.Status = StatusCompleted
	default:
		out.Status = StatusFailed
		out.ErrorCode = deref(op.Status)
		out.ErrorMessage = deref(op.StatusDetails)
	}

	if op.Error != nil {
		out.Status = StatusFailed
		out.ErrorCode = op.Error.Code
		out.ErrorMessage = op.Error.Error()
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
