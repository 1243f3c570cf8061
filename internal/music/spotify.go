package music

import (
	"context"
	"fmt"
	"strings"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
)

// embedBaseURL is the Spotify embedded-player URL prefix.
const embedBaseURL = "https://open.spotify.com/embed/track/"

// SpotifySearcher resolves track queries against the Spotify search
// API using the client-credentials flow (no user context needed for
// catalog search).
type SpotifySearcher struct {
	client *spotify.Client
}

// NewSpotifySearcher creates a searcher with its own token lifecycle;
// the oauth2 client refreshes the app token transparently.
func NewSpotifySearcher(ctx context.Context, clientID, clientSecret string) (*SpotifySearcher, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("spotify credentials missing")
	}

	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	httpClient := cfg.Client(ctx)
	return &SpotifySearcher{client: spotify.New(httpClient)}, nil
}

// SearchTrack returns the best track hit for the query, or (nil, nil)
// when Spotify has no match.
func (s *SpotifySearcher) SearchTrack(ctx context.Context, query string) (*Match, error) {
	result, err := s.client.Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(1))
	if err != nil {
		return nil, fmt.Errorf("searching spotify: %w", err)
	}
	if result.Tracks == nil || len(result.Tracks.Tracks) == 0 {
		return nil, nil
	}

	track := result.Tracks.Tracks[0]
	artists := make([]string, 0, len(track.Artists))
	for _, a := range track.Artists {
		artists = append(artists, a.Name)
	}

	return &Match{
		Title:     track.Name,
		Artist:    strings.Join(artists, ", "),
		SourceID:  string(track.ID),
		WidgetURL: embedBaseURL + string(track.ID),
	}, nil
}
