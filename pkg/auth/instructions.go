package auth

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ShowTokenGuide writes step-by-step instructions for obtaining an access
// token
func ShowTokenGuide(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w, "AD LIBRARY ACCESS TOKEN")
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Requests to the ad library carry an 'Authorization: Bearer <token>' header.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "STEP 1: Sign in to the TikTok for Developers portal")
	fmt.Fprintln(w, "   - Create an app with access to the Commercial Content API")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "STEP 2: Generate a client access token")
	fmt.Fprintln(w, "   - Use the app's client key and secret with the client_credentials grant")
	fmt.Fprintln(w, "   - Tokens expire; generate a new one when requests start failing with 401")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "STEP 3: Store it")
	fmt.Fprintln(w, "   - tiktokads token set            (keychain, else encrypted file)")
	fmt.Fprintln(w, "   - or export "+AccessTokenEnv+"=<token>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The token is never written to the config file by 'config init'.")
	fmt.Fprintln(w, strings.Repeat("=", 72))
}

// PromptToken asks for a token on out and reads it from in without echo when
// in is a terminal
func PromptToken(in *os.File, out io.Writer) (string, error) {
	fmt.Fprint(out, "Access token: ")

	if term.IsTerminal(int(in.Fd())) {
		secret, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		return strings.TrimSpace(string(secret)), nil
	}

	return readLine(in)
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return strings.TrimSpace(line), nil
}
