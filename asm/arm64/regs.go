package arm64

type (
	// XReg is a 64-bit general purpose register. Encoding 31 means SP or
	// XZR depending on the instruction; both names are provided.
	XReg uint8

	// VReg is a 128-bit NEON register.
	VReg uint8

	Cond uint8

	PrfOp uint8
)

const (
	X0 XReg = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16
	X17
	X18 // reserved by the platform, never allocated
	X19
	X20
	X21
	X22
	X23
	X24
	X25
	X26
	X27
	X28
	X29
	X30

	SP  XReg = 31
	XZR XReg = 31
)

const (
	V0 VReg = iota
	V1
	V2
	V3
	V4
	V5
	V6
	V7
	V8
	V9
	V10
	V11
	V12
	V13
	V14
	V15
	V16
	V17
	V18
	V19
	V20
	V21
	V22
	V23
	V24
	V25
	V26
	V27
	V28
	V29
	V30
	V31
)

const (
	EQ Cond = iota
	NE
	HS // unsigned >=, aka CS
	LO // unsigned <, aka CC
	MI
	PL
	VS
	VC
	HI // unsigned >
	LS // unsigned <=
	GE
	LT
	GT
	LE
	AL
)

const (
	PLDL1Keep PrfOp = 0x00
	PLDL2Keep PrfOp = 0x02
	PLDL3Keep PrfOp = 0x04
)
