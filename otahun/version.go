package otahun

// Set at build time via:
// -ldflags "-X github.com/Psyphen36/Otahun/otahun.Version=$$(date +'%Y%m%d')"
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)
