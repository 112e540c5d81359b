package version

// Version is the tool version recorded in the provenance comment of every
// generated jobscript.
const Version = "0.2.0"
