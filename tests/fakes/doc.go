// Package fakes provides test doubles for the vault layer.
//
// FakeCertificatesClient stands in for the Azure SDK certificates client so
// the real vault adapter can be exercised without a Key Vault. FakeVault is
// an in-memory vault.Client with scripted operation outcomes for rotation,
// server and command tests.
//
// Usage:
//
//	fv := fakes.NewFakeVault("kv-prod")
//	fv.AddCertificate("web-tls", time.Now().AddDate(0, 0, 10))
//	fv.Statuses["web-tls"] = []vault.OperationStatus{vault.StatusInProgress, vault.StatusCompleted}
package fakes
