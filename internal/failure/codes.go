package failure

import (
	"fmt"
	"strconv"
	"strings"
)

// Program rejection codes emitted by the registry program and the runtime.
const (
	CodeAccountAlreadyInUse          = "AccountAlreadyInUse"
	CodeAccountInUse                 = "AccountInUse"
	CodeBlockhashNotFound            = "BlockhashNotFound"
	CodeAccountNotInitialized        = "AccountNotInitialized"
	CodeConstraintSeeds              = "ConstraintSeeds"
	CodeConstraintSigner             = "ConstraintSigner"
	CodeConstraintHasOne             = "ConstraintHasOne"
	CodeProjectNotVerified           = "ProjectNotVerified"
	CodeExceedsVerifiedCapacity      = "ExceedsVerifiedCapacity"
	CodeProjectAlreadyProcessed      = "ProjectAlreadyProcessed"
	CodeVerifierNotActive            = "VerifierNotActive"
	CodeInvalidQualityRating         = "InvalidQualityRating"
	CodeExceedsAvailableQuantity     = "ExceedsAvailableQuantity"
	CodeInvalidEcosystemType         = "InvalidEcosystemType"
	CodeInsufficientMonitoringData   = "InsufficientMonitoringData"
	CodeInvalidCarbonMeasurement     = "InvalidCarbonMeasurement"
	CodeComplianceValidationFailed   = "ComplianceValidationFailed"
	CodeInsufficientCredits          = "InsufficientCredits"
	CodeUnauthorized                 = "Unauthorized"
	CodeOnlyAdminCanInitialize       = "OnlyAdminCanInitialize"
	CodeOnlyValidatorCanVerify       = "OnlyValidatorCanVerify"
	CodeRegistryNotInitialized       = "RegistryNotInitialized"
	CodeRegistryAlreadyInitialized   = "RegistryAlreadyInitialized"
	CodeProjectNotFound              = "ProjectNotFound"
	CodeDuplicateProjectID           = "DuplicateProjectId"
	CodeVerificationAlreadySubmitted = "VerificationAlreadySubmitted"
	CodeInvalidCreditAmount          = "InvalidCreditAmount"
	CodeListingNotFound              = "ListingNotFound"
	CodeListingNotActive             = "ListingNotActive"
	CodeInvalidPrice                 = "InvalidPrice"
	CodeCannotBuyOwnListing          = "CannotBuyOwnListing"
	CodeInvalidTokenAccount          = "InvalidTokenAccount"
	CodeInvalidInput                 = "InvalidInput"
	CodeInvalidTimestamp             = "InvalidTimestamp"
	CodeMathOverflow                 = "MathOverflow"
)

// CodeInfo describes one entry of the rejection table.
type CodeInfo struct {
	Name      string
	Number    int
	Message   string
	Transient bool
}

var codeTable = []CodeInfo{
	// runtime / system program
	{Name: CodeAccountAlreadyInUse, Number: 0x0, Message: "Account is already in use"},
	{Name: CodeAccountInUse, Number: -1, Message: "Account is locked by a concurrent transaction", Transient: true},
	{Name: CodeBlockhashNotFound, Number: -1, Message: "Recent blockhash expired before confirmation", Transient: true},

	// framework constraints
	{Name: "ConstraintMut", Number: 2000, Message: "Account must be mutable"},
	{Name: CodeConstraintHasOne, Number: 2001, Message: "Account constraint violation: has_one"},
	{Name: CodeConstraintSigner, Number: 2002, Message: "Account must be a signer"},
	{Name: "ConstraintRaw", Number: 2003, Message: "Raw constraint was violated"},
	{Name: "ConstraintOwner", Number: 2004, Message: "Account owner constraint violated"},
	{Name: "ConstraintRentExempt", Number: 2005, Message: "Account must be rent exempt"},
	{Name: CodeConstraintSeeds, Number: 2006, Message: "Seed constraint violated"},
	{Name: "ConstraintExecutable", Number: 2007, Message: "Account must be executable"},
	{Name: "ConstraintState", Number: 2008, Message: "State constraint violated"},
	{Name: "ConstraintAssociated", Number: 2009, Message: "Associated account constraint violated"},
	{Name: CodeAccountNotInitialized, Number: 3012, Message: "Account has not been initialized"},

	// registry program
	{Name: CodeProjectNotVerified, Number: 6000, Message: "Project must be verified before this operation"},
	{Name: CodeExceedsVerifiedCapacity, Number: 6001, Message: "Amount exceeds the project's verified carbon capacity"},
	{Name: CodeProjectAlreadyProcessed, Number: 6002, Message: "Project has already been processed"},
	{Name: CodeVerifierNotActive, Number: 6003, Message: "Verifier is not active"},
	{Name: CodeInvalidQualityRating, Number: 6004, Message: "Quality rating must be between 1 and 5"},
	{Name: CodeExceedsAvailableQuantity, Number: 6005, Message: "Quantity exceeds what is available"},
	{Name: CodeInvalidEcosystemType, Number: 6006, Message: "Unsupported ecosystem type"},
	{Name: CodeInsufficientMonitoringData, Number: 6007, Message: "Not enough monitoring data"},
	{Name: CodeInvalidCarbonMeasurement, Number: 6008, Message: "Carbon measurement is out of range"},
	{Name: CodeComplianceValidationFailed, Number: 6009, Message: "Compliance validation failed"},
	{Name: CodeInsufficientCredits, Number: 6010, Message: "Insufficient carbon credits"},
	{Name: CodeUnauthorized, Number: 6011, Message: "You do not have permission to perform this action"},
	{Name: CodeOnlyAdminCanInitialize, Number: 6012, Message: "Only administrators can initialize the registry"},
	{Name: CodeOnlyValidatorCanVerify, Number: 6013, Message: "Only validators can verify projects"},
	{Name: CodeRegistryNotInitialized, Number: 6014, Message: "Registry has not been initialized yet"},
	{Name: CodeRegistryAlreadyInitialized, Number: 6015, Message: "Registry has already been initialized"},
	{Name: CodeProjectNotFound, Number: 6016, Message: "Project not found"},
	{Name: CodeDuplicateProjectID, Number: 6017, Message: "A project with this ID already exists"},
	{Name: CodeVerificationAlreadySubmitted, Number: 6018, Message: "You have already submitted a verification for this project"},
	{Name: CodeInvalidCreditAmount, Number: 6019, Message: "Invalid credit amount"},
	{Name: CodeListingNotFound, Number: 6020, Message: "Marketplace listing not found"},
	{Name: CodeListingNotActive, Number: 6021, Message: "This listing is not active"},
	{Name: CodeInvalidPrice, Number: 6022, Message: "Invalid listing price"},
	{Name: CodeCannotBuyOwnListing, Number: 6023, Message: "Cannot purchase your own listing"},
	{Name: CodeInvalidTokenAccount, Number: 6024, Message: "Invalid token account"},
	{Name: CodeInvalidInput, Number: 6025, Message: "Invalid input data"},
	{Name: CodeInvalidTimestamp, Number: 6026, Message: "Invalid timestamp"},
	{Name: CodeMathOverflow, Number: 6027, Message: "Mathematical overflow occurred"},
}

var (
	codesByName   = make(map[string]CodeInfo, len(codeTable))
	codesByNumber = make(map[int]CodeInfo, len(codeTable))
)

func init() {
	for _, info := range codeTable {
		codesByName[strings.ToLower(info.Name)] = info
		if info.Number >= 0 {
			codesByNumber[info.Number] = info
		}
	}
}

// LookupCode resolves a symbolic name or a number into its table entry.
func LookupCode(code string) (CodeInfo, bool) {
	if info, ok := codesByName[strings.ToLower(code)]; ok {
		return info, true
	}
	if n, err := strconv.Atoi(code); err == nil {
		info, ok := codesByNumber[n]
		return info, ok
	}
	return CodeInfo{}, false
}

// CodeNumber returns the numeric code for name, or -1 when it has none.
func CodeNumber(name string) int {
	if info, ok := codesByName[strings.ToLower(name)]; ok {
		return info.Number
	}
	return -1
}

func lookupCode(code string) CodeInfo {
	if info, ok := LookupCode(code); ok {
		return info
	}
	return CodeInfo{Name: code, Number: -1, Message: fmt.Sprintf("Program error: %s", code)}
}

func lookupHex(hex string) CodeInfo {
	n, err := strconv.ParseInt(hex, 16, 64)
	if err != nil {
		return CodeInfo{Name: "0x" + hex, Number: -1, Message: fmt.Sprintf("Program error: 0x%s", hex)}
	}
	if info, ok := codesByNumber[int(n)]; ok {
		return info
	}
	return CodeInfo{Name: strconv.FormatInt(n, 10), Number: int(n), Message: fmt.Sprintf("Program error code: %d", n)}
}
