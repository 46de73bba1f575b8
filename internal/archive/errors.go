package archive

import (
	"errors"
	"fmt"
)

// ErrArchiveExists is returned when the output path exists and overwrite
// was not requested.
var ErrArchiveExists = errors.New("archive already exists")

// ErrKeyFormatMismatch is returned when an archive's repository keys use
// a different format than the target backend. Re-keying objects during
// import is not implemented.
var ErrKeyFormatMismatch = errors.New("repository key format mismatch: re-keying objects is not implemented")

// errTestRun unwinds the import transaction in test runs.
var errTestRun = errors.New("test run: rolling back")

// ExportValidationError reports input that cannot be exported, such as
// unsealed process nodes or unknown starting entities.
type ExportValidationError struct {
	Message string
	// NodeIDs lists the offending nodes, if any.
	NodeIDs []int64
}

func (e *ExportValidationError) Error() string {
	if len(e.NodeIDs) == 0 {
		return "export validation: " + e.Message
	}
	return fmt.Sprintf("export validation: %s: %v", e.Message, e.NodeIDs)
}

// ImportValidationError reports archive content that cannot be merged
// into the target: dangling references, malformed rows, invalid links.
type ImportValidationError struct {
	Message string
	Err     error
}

func (e *ImportValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("import validation: %s: %v", e.Message, e.Err)
	}
	return "import validation: " + e.Message
}

func (e *ImportValidationError) Unwrap() error { return e.Err }

// ImportUniquenessError reports a uniqueness constraint that could not be
// satisfied, for example when every relabelling attempt is taken.
type ImportUniquenessError struct {
	Message string
}

func (e *ImportUniquenessError) Error() string {
	return "import uniqueness: " + e.Message
}

// LicensingError reports a data node whose license fails the allowed or
// forbidden license check.
type LicensingError struct {
	NodeID  int64
	UUID    string
	License string
	Reason  string
}

func (e *LicensingError) Error() string {
	return fmt.Sprintf("node %d (%s) is licensed under %q: %s", e.NodeID, e.UUID, e.License, e.Reason)
}

// IncompatibleSchemaError reports an archive whose version differs from
// the one this package reads. Archives must be migrated first.
type IncompatibleSchemaError struct {
	Found    string
	Expected string
}

func (e *IncompatibleSchemaError) Error() string {
	return fmt.Sprintf("incompatible archive schema %q, expected %q: migrate the archive first", e.Found, e.Expected)
}

// IsExportValidationError reports whether err is an ExportValidationError.
func IsExportValidationError(err error) bool {
	var e *ExportValidationError
	return errors.As(err, &e)
}

// IsImportValidationError reports whether err is an ImportValidationError.
func IsImportValidationError(err error) bool {
	var e *ImportValidationError
	return errors.As(err, &e)
}

// IsUniquenessError reports whether err is an ImportUniquenessError.
func IsUniquenessError(err error) bool {
	var e *ImportUniquenessError
	return errors.As(err, &e)
}

// IsLicensingError reports whether err is a LicensingError.
func IsLicensingError(err error) bool {
	var e *LicensingError
	return errors.As(err, &e)
}

// IsIncompatibleSchema reports whether err is an IncompatibleSchemaError.
func IsIncompatibleSchema(err error) bool {
	var e *IncompatibleSchemaError
	return errors.As(err, &e)
}
