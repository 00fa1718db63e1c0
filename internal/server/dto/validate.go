// Defines the validation interface for requests.

package dto

// Validatable is implemented by every request type in this package. The
// generic handler wrappers require it as a type constraint, so field checks
// (password confirmation, search field names, export formats) always run
// before a handler sees the request.
type Validatable interface {
	Validate() error
}
