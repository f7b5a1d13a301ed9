package api

import "errors"

// Pipeline error taxonomy. The first group marks per-item soft failures:
// the orchestrator logs them, skips the item, and continues the run. The
// second group is fatal to the whole run.
var (
	// ErrPassphraseRequired: an encrypted archive member was found but no
	// passphrase is configured and no prompt channel is available.
	ErrPassphraseRequired = errors.New("passphrase required")

	// ErrUnsupportedArchive: a .rar/.7z container was found and the
	// external extraction tool is not installed.
	ErrUnsupportedArchive = errors.New("unsupported archive format")

	// ErrUndecodableText: none of the candidate encodings produced a
	// clean decode.
	ErrUndecodableText = errors.New("undecodable text")

	// ErrUnclassifiedFormat: signature checks were inconclusive; the file
	// is skipped rather than guessed at.
	ErrUnclassifiedFormat = errors.New("unclassified format")

	// ErrMalformedFile: too large a fraction of data rows failed to
	// parse, indicating a systemic problem rather than stray bad rows.
	ErrMalformedFile = errors.New("malformed file")

	// ErrUnrecognizedSchema: the generic parser could not locate both a
	// date-like and an amount-like column.
	ErrUnrecognizedSchema = errors.New("unrecognized schema")

	// ErrNoMappingAvailable: neither an interactive prompt channel nor a
	// default account id exists for an unmapped source account.
	ErrNoMappingAvailable = errors.New("no account mapping available")

	// ErrUploadRejected: the budgeting API rejected a group's upload.
	ErrUploadRejected = errors.New("upload rejected")
)

var (
	// ErrAuth covers IMAP login and OAuth token refresh failures.
	ErrAuth = errors.New("authentication failed")

	// ErrStateCorrupt: the dedup/state store cannot be opened or read.
	ErrStateCorrupt = errors.New("state store corrupt")
)

// ReasonTag maps a pipeline error to the short tag reported in the run
// summary. Unknown errors report as "error".
func ReasonTag(err error) string {
	switch {
	case errors.Is(err, ErrPassphraseRequired):
		return "passphrase-required"
	case errors.Is(err, ErrUnsupportedArchive):
		return "unsupported-archive"
	case errors.Is(err, ErrUndecodableText):
		return "undecodable-text"
	case errors.Is(err, ErrUnclassifiedFormat):
		return "unclassified-format"
	case errors.Is(err, ErrMalformedFile):
		return "malformed-file"
	case errors.Is(err, ErrUnrecognizedSchema):
		return "unrecognized-schema"
	case errors.Is(err, ErrNoMappingAvailable):
		return "no-mapping"
	case errors.Is(err, ErrUploadRejected):
		return "upload-rejected"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrStateCorrupt):
		return "state-corrupt"
	default:
		return "error"
	}
}
