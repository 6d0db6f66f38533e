package schema

// InitializeValidator builds a validator over an empty format
// registry. Format packages import this one, so the caller wires in
// compilers and validators after construction rather than here.
func InitializeValidator() *Validator {
	return NewValidator(NewFormatRegistry())
}
