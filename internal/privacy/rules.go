package privacy

import "regexp"

// Rule types produced by the default catalog
const (
	TypeCaseTrackingID     = "CASE_TRACKING_ID"
	TypeEmail              = "EMAIL"
	TypeCreditCard         = "CREDIT_CARD"
	TypeIBAN               = "IBAN"
	TypePhoneUKMobile      = "PHONE_UK_MOBILE"
	TypePhoneUKLandline    = "PHONE_UK_LANDLINE"
	TypePhoneInternational = "PHONE_INTERNATIONAL"
	TypeNINumber           = "NI_NUMBER"
	TypeNHSNumber          = "NHS_NUMBER"
	TypeUKPostcode         = "UK_POSTCODE"
	TypeStreetAddress      = "STREET_ADDRESS"
	TypeIPAddress          = "IP_ADDRESS"
	TypeDate               = "DATE"
	TypeReferenceNumber    = "REFERENCE_NUMBER"
)

// Pre-compiled patterns. Bands: structured IDs > phone numbers >
// government IDs > addresses > network identifiers > dates > generic refs.
var (
	caseTrackingPattern  = regexp.MustCompile(`\b(?:CASE|INC|RPT)-\d{4}-\d{4,8}\b`)
	emailPattern         = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)
	creditCardPattern    = regexp.MustCompile(`\b\d(?:[ \-]?\d){12,18}\b`)
	ibanPattern          = regexp.MustCompile(`\b[A-Z]{2}\d{2} ?(?:[A-Z0-9]{4} ?){2,7}[A-Z0-9]{1,4}\b`)
	ukMobilePattern      = regexp.MustCompile(`(?:\+44\s?7\d{3}|\b07\d{3})\s?\d{3}\s?\d{3}\b`)
	ukLandlinePattern    = regexp.MustCompile(`(?:\+44\s?|\b0)(?:1\d{2,4}|2\d)\s?\d{3,4}\s?\d{3,4}\b`)
	internationalPattern = regexp.MustCompile(`\+\d{1,3}[\s\-]?\(?\d{1,4}\)?(?:[\s\-]?\d{2,4}){2,4}\b`)
	niNumberPattern      = regexp.MustCompile(`\b[A-Za-z]{2}\s?\d{2}\s?\d{2}\s?\d{2}\s?[A-Da-d]\b`)
	nhsNumberPattern     = regexp.MustCompile(`\b\d{3}[ \-]?\d{3}[ \-]?\d{4}\b`)
	ukPostcodePattern    = regexp.MustCompile(`\b(?:[A-Z]{1,2}\d[A-Z\d]?|GIR) ?\d[A-Z]{2}\b`)
	streetAddressPattern = regexp.MustCompile(`\b\d{1,4}[A-Za-z]?\s+(?:[A-Z][a-z]+\s+){1,3}(?:Street|St|Road|Rd|Avenue|Ave|Lane|Ln|Drive|Dr|Close|Way|Crescent|Place|Terrace|Court|Gardens)\b`)
	ipv4Pattern          = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	datePattern          = regexp.MustCompile(`\b(?:\d{1,2}[/.\-]\d{1,2}[/.\-](?:\d{4}|\d{2})|\d{4}-\d{2}-\d{2}|\d{1,2}\s+(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\s+\d{4})\b`)
	referencePattern     = regexp.MustCompile(`\b[A-Z]{2,5}-\d[A-Z0-9\-]{4,}\b`)
)

// GetDefaultRules returns the built-in rule catalog in declaration order
func GetDefaultRules() []PatternRule {
	return []PatternRule{
		{Type: TypeCaseTrackingID, Priority: 100, Pattern: caseTrackingPattern, Severity: SeverityLow},
		{Type: TypeEmail, Priority: 95, Pattern: emailPattern, Validator: ValidEmailDomain, Severity: SeverityHigh},
		{Type: TypeCreditCard, Priority: 90, Pattern: creditCardPattern, Validator: ValidLuhn, Severity: SeverityHigh, Shrink: true},
		{Type: TypeIBAN, Priority: 88, Pattern: ibanPattern, Validator: ValidIBAN, Severity: SeverityHigh},

		{Type: TypePhoneUKMobile, Priority: 80, Pattern: ukMobilePattern, Severity: SeverityMedium},
		{Type: TypePhoneUKLandline, Priority: 78, Pattern: ukLandlinePattern, Severity: SeverityMedium},
		{Type: TypePhoneInternational, Priority: 75, Pattern: internationalPattern, Severity: SeverityMedium},

		{Type: TypeNINumber, Priority: 70, Pattern: niNumberPattern, Validator: ValidNINumber, Severity: SeverityHigh},
		{Type: TypeNHSNumber, Priority: 68, Pattern: nhsNumberPattern, Validator: ValidNHSNumber, Severity: SeverityHigh},

		{Type: TypeUKPostcode, Priority: 60, Pattern: ukPostcodePattern, Severity: SeverityMedium},
		{Type: TypeStreetAddress, Priority: 58, Pattern: streetAddressPattern, Severity: SeverityMedium},

		{Type: TypeIPAddress, Priority: 50, Pattern: ipv4Pattern, Validator: ValidIPv4, Severity: SeverityLow},

		{Type: TypeDate, Priority: 40, Pattern: datePattern, Severity: SeverityLow},

		{Type: TypeReferenceNumber, Priority: 10, Pattern: referencePattern, Severity: SeverityLow},
	}
}
