// Package secure keeps credentials encrypted in memory between the time
// configuration is loaded and the time the authentication bootstrap needs
// them.
//
// Values are sealed in a memguard enclave (XSalsa20Poly1305, mlocked where
// the platform allows). Reveal decrypts into a guarded buffer, wipes it when
// the callback returns, and hands the callback an ordinary heap copy that
// stays valid for credentials that keep it:
//
//	sealed := secure.Seal(cfg.ClientSecret)
//	defer sealed.Destroy()
//
//	err := sealed.Reveal(func(secret string) error {
//	    cred, err = azidentity.NewClientSecretCredential(tenant, client, secret, nil)
//	    return err
//	})
package secure
