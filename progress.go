package syncclient

import "github.com/latticesync/syncclient/internal/wire"

// ClientVersion and ServerVersion are re-exported from the wire package so the engine's
// components can speak in these units without importing wire directly everywhere.
type ClientVersion = wire.ClientVersion
type ServerVersion = wire.ServerVersion

// ClientFileIdent is assigned by the server on first IDENT and is immutable once set, except
// via client reset (spec.md §3).
type ClientFileIdent struct {
	Ident uint64
	Salt  int64
}

func (c ClientFileIdent) IsZero() bool {
	return c.Ident == 0 && c.Salt == 0
}

// SyncProgress is the four-cursor progress state a Session tracks per spec.md §3. The
// monotonicity invariants are enforced by Validate, called on every inbound DOWNLOAD.
type SyncProgress struct {
	DownloadServerVersion               ServerVersion
	DownloadLastIntegratedClientVersion ClientVersion
	UploadClientVersion                 ClientVersion
	UploadLastIntegratedServerVersion   ServerVersion
	LatestServerVersion                 LatestServerVersion
}

type LatestServerVersion struct {
	Version ServerVersion
	Salt    int64
}

// Validate checks a freshly-received progress snapshot against the previous one (spec.md §3,
// §8 testable property 1): none of the five cursors may go backwards, download.server_version
// may not exceed latest_server_version, upload.client_version may not exceed the last local
// version available, and download.last_integrated_client_version may not exceed
// upload.client_version. A violation is a fatal `bad_progress` (spec.md §4.3, §7).
func (next SyncProgress) Validate(prev SyncProgress, lastLocalVersionAvailable ClientVersion) error {
	if next.DownloadServerVersion < prev.DownloadServerVersion {
		return NewProtocolError(KindBadProgress, "download.server_version went backwards")
	}
	if next.DownloadLastIntegratedClientVersion < prev.DownloadLastIntegratedClientVersion {
		return NewProtocolError(KindBadProgress, "download.last_integrated_client_version went backwards")
	}
	if next.UploadClientVersion < prev.UploadClientVersion {
		return NewProtocolError(KindBadProgress, "upload.client_version went backwards")
	}
	if next.UploadLastIntegratedServerVersion < prev.UploadLastIntegratedServerVersion {
		return NewProtocolError(KindBadProgress, "upload.last_integrated_server_version went backwards")
	}
	if next.LatestServerVersion.Version < prev.LatestServerVersion.Version {
		return NewProtocolError(KindBadProgress, "latest_server_version went backwards")
	}
	if next.DownloadServerVersion > next.LatestServerVersion.Version {
		return NewProtocolError(KindBadProgress, "download.server_version exceeds latest_server_version")
	}
	if next.UploadClientVersion > lastLocalVersionAvailable {
		return NewProtocolError(KindBadProgress, "upload.client_version exceeds last local version available")
	}
	if next.DownloadLastIntegratedClientVersion > next.UploadClientVersion {
		return NewProtocolError(KindBadProgress, "download.last_integrated_client_version exceeds upload.client_version")
	}
	return nil
}
