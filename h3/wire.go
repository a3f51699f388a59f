package h3

import "fmt"

// defaultResponsePage and postResponsePage are copied byte-for-byte
// (modulo the C source's line-continuation backslashes, which only
// affect how the literal was split across source lines) from
// h3zero_server_default_page / h3zero_server_post_response_page.
const defaultResponsePage = "<!DOCTYPE HTML PUBLIC \"-//IETF//DTD HTML 2.0//EN\">\r\n<HTML>\r\n<HEAD>\r\n<TITLE>" +
	"Picoquic HTTP 3 service" +
	"</TITLE>\r\n</HEAD><BODY>\r\n" +
	"<h1>Simple HTTP 3 Responder</h1>\r\n" +
	"<p>GET / or GET /index.html returns this text</p>\r\n" +
	"<p>Get /NNNNN returns txt document of length NNNNN bytes(decimal)</p>\r\n" +
	"<p>Any other command will result in an error, and an empty response.</p>\r\n" +
	"<h1>Enjoy!</h1>\r\n" +
	"</BODY></HTML>\r\n"

const postResponsePageFormat = "<!DOCTYPE HTML PUBLIC \"-//IETF//DTD HTML 2.0//EN\">\r\n<HTML>\r\n<HEAD>\r\n<TITLE>" +
	"Picoquic POST Response" +
	"</TITLE>\r\n</HEAD><BODY>\r\n" +
	"<h1>POST successful</h1>\r\n" +
	"<p>Received %d bytes.\r\n" +
	"</BODY></HTML>\r\n"

// postResponsePage renders the POST acknowledgement page for a request
// that received byteCount bytes of body.
func postResponsePage(byteCount uint64) string {
	return fmt.Sprintf(postResponsePageFormat, byteCount)
}
