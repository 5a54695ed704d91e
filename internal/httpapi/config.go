package httpapi

// maxBodyBytes caps multipart request bodies. Default 110 MiB leaves room for
// a 100 MiB upload plus form overhead.
var maxBodyBytes int64 = 110 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 110 << 20
		return
	}
	maxBodyBytes = n
}

// multipartMemory is how much of an upload is held in memory before the
// multipart parser spills to disk.
const multipartMemory = 8 << 20

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
