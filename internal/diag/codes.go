package diag

import "fmt"

type Code uint16

const (
	UnknownCode Code = 0

	UseInfo          Code = 1000
	UseUsage         Code = 1001
	UseInvalidAPI    Code = 1002
	UseBadFlag       Code = 1003
	UseConflictFlags Code = 1004

	CatInfo           Code = 2000
	CatUnknownArchive Code = 2001
	CatBadConfig      Code = 2002
	CatBadTarget      Code = 2003

	DexInfo            Code = 3000
	DexFormat          Code = 3001
	DexUnsupported     Code = 3002
	DexOpcodeForAPI    Code = 3003
	DexVerify          Code = 3004
	DexIndexOverflow   Code = 3005
	DexIncompatibleRet Code = 3006

	IOInfo       Code = 4000
	IORead       Code = 4001
	IOWrite      Code = 4002
	IOArchive    Code = 4003
	IOReport     Code = 4004
	IOTraceSetup Code = 4005

	RwrInfo      Code = 5000
	RwrNoMatch   Code = 5001
	RwrReplaced  Code = 5002
	RwrDuplicate Code = 5003
	RwrCanceled  Code = 5004
)

var codeDescription = map[Code]string{
	UnknownCode:        "Unknown error",
	UseInfo:            "Usage information",
	UseUsage:           "Wrong number of arguments",
	UseInvalidAPI:      "Invalid API level",
	UseBadFlag:         "Invalid flag value",
	UseConflictFlags:   "Conflicting flags",
	CatInfo:            "Catalog information",
	CatUnknownArchive:  "No patch for archive",
	CatBadConfig:       "Invalid configuration file",
	CatBadTarget:       "Invalid patch target",
	DexInfo:            "DEX information",
	DexFormat:          "Malformed DEX file",
	DexUnsupported:     "Unsupported DEX feature",
	DexOpcodeForAPI:    "Opcode not available at API level",
	DexVerify:          "Replacement body failed verification",
	DexIndexOverflow:   "Constant pool index overflow",
	DexIncompatibleRet: "Pattern does not fit return type",
	IOInfo:             "I/O information",
	IORead:             "Cannot read input",
	IOWrite:            "Cannot write output",
	IOArchive:          "Cannot process archive",
	IOReport:           "Cannot write report",
	IOTraceSetup:       "Cannot set up tracing",
	RwrInfo:            "Rewrite information",
	RwrNoMatch:         "No method matched",
	RwrReplaced:        "Method replaced",
	RwrDuplicate:       "Method name replaced more than once",
	RwrCanceled:        "Run canceled",
}

func (c Code) ID() string {
	switch ic := int(c); {
	case ic >= 1000 && ic < 2000:
		return fmt.Sprintf("USE%04d", ic)
	case ic >= 2000 && ic < 3000:
		return fmt.Sprintf("CAT%04d", ic)
	case ic >= 3000 && ic < 4000:
		return fmt.Sprintf("DEX%04d", ic)
	case ic >= 4000 && ic < 5000:
		return fmt.Sprintf("IO%04d", ic)
	case ic >= 5000 && ic < 6000:
		return fmt.Sprintf("RWR%04d", ic)
	}
	return "E0000"
}

func (c Code) Title() string {
	if desc, ok := codeDescription[c]; ok {
		return desc
	}
	return codeDescription[UnknownCode]
}

func (c Code) String() string {
	return fmt.Sprintf("[%s]: %s", c.ID(), c.Title())
}
