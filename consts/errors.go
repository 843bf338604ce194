package consts

import "errors"

var (
	ErrMalformedMessage      = errors.New("malformed message")
	ErrUnknownRulesetVersion = errors.New("unknown ruleset version")
	ErrUnsupportedEncoding   = errors.New("unsupported encoding")
	ErrNoExtractableContent  = errors.New("no extractable content")
	ErrComputationFailed     = errors.New("computation failed")
	ErrResultNotFound        = errors.New("result not found")
	ErrInternalError         = errors.New("internal error")

	ErrDBNotFound                = errors.New("not found")
	ErrDBUniqueViolation         = errors.New("unique violation")
	ErrDBCommitTransactionFailed = errors.New("commit failed")
	ErrDBBeginTransactionFailed  = errors.New("start transaction failed")
	ErrDBUpsertFailed            = errors.New("upsert failed")

	ErrS3UploadFailed = errors.New("s3 upload failed")

	ErrSerializationFailed = errors.New("serialization failed")
)
