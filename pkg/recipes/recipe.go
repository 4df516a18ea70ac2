// Package recipes decodes and searches the recipe feed.
package recipes

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/cases"
)

// Recipe is a single entry of the recipe feed
type Recipe struct {
	ID            string `json:"uuid"`
	Name          string `json:"name"`
	Cuisine       string `json:"cuisine"`
	PhotoURLSmall string `json:"photo_url_small,omitempty"`
	PhotoURLLarge string `json:"photo_url_large,omitempty"`
	SourceURL     string `json:"source_url,omitempty"`
	YouTubeURL    string `json:"youtube_url,omitempty"`
}

// UnmarshalJSON rejects recipes missing uuid, name or cuisine and recipes carrying unparsable urls
func (r *Recipe) UnmarshalJSON(data []byte) error {
	var aux struct {
		ID            *string `json:"uuid"`
		Name          *string `json:"name"`
		Cuisine       *string `json:"cuisine"`
		PhotoURLSmall string  `json:"photo_url_small"`
		PhotoURLLarge string  `json:"photo_url_large"`
		SourceURL     string  `json:"source_url"`
		YouTubeURL    string  `json:"youtube_url"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	// Check required fields
	switch {
	case aux.ID == nil:
		return fmt.Errorf("recipe is missing required field 'uuid'")
	case aux.Name == nil:
		return fmt.Errorf("recipe %s is missing required field 'name'", *aux.ID)
	case aux.Cuisine == nil:
		return fmt.Errorf("recipe %s is missing required field 'cuisine'", *aux.ID)
	}

	// Check optional urls
	for field, value := range map[string]string{
		"photo_url_small": aux.PhotoURLSmall,
		"photo_url_large": aux.PhotoURLLarge,
		"source_url":      aux.SourceURL,
		"youtube_url":     aux.YouTubeURL,
	} {
		if value == "" {
			continue
		}
		if _, err := url.Parse(value); err != nil {
			return fmt.Errorf("recipe %s has invalid '%s': %v", *aux.ID, field, err)
		}
	}

	*r = Recipe{
		ID:            *aux.ID,
		Name:          *aux.Name,
		Cuisine:       *aux.Cuisine,
		PhotoURLSmall: aux.PhotoURLSmall,
		PhotoURLLarge: aux.PhotoURLLarge,
		SourceURL:     aux.SourceURL,
		YouTubeURL:    aux.YouTubeURL,
	}
	return nil
}

// LinkURL is an external page related to a recipe
type LinkURL struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// LinkURLs returns the source and YouTube links of the recipe, skipping missing ones
func (r Recipe) LinkURLs() []LinkURL {
	links := []LinkURL{}
	if r.SourceURL != "" {
		links = append(links, LinkURL{Title: "Source URL", URL: r.SourceURL})
	}
	if r.YouTubeURL != "" {
		links = append(links, LinkURL{Title: "YouTube URL", URL: r.YouTubeURL})
	}
	return links
}

// Response is the top level document of the recipe feed
type Response struct {
	Recipes []Recipe `json:"recipes"`
}

// UnmarshalJSON requires the recipes key to be present
func (r *Response) UnmarshalJSON(data []byte) error {
	var aux struct {
		Recipes *[]Recipe `json:"recipes"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Recipes == nil {
		return fmt.Errorf("response is missing required field 'recipes'")
	}
	r.Recipes = *aux.Recipes
	return nil
}

// Decode strictly decodes a feed document. A single invalid recipe fails the whole document.
func Decode(data []byte) (Response, error) {
	var response Response
	if err := json.Unmarshal(data, &response); err != nil {
		return Response{}, fmt.Errorf("failed to decode recipes: %w", err)
	}
	if response.Recipes == nil {
		response.Recipes = []Recipe{}
	}
	return response, nil
}

// Filter returns the recipes whose name contains search, ignoring case, in feed order. An empty search matches
// everything.
func Filter(recipes []Recipe, search string) []Recipe {
	matched := make([]Recipe, 0, len(recipes))
	folder := cases.Fold()
	needle := folder.String(search)
	for _, recipe := range recipes {
		if search == "" || strings.Contains(folder.String(recipe.Name), needle) {
			matched = append(matched, recipe)
		}
	}
	return matched
}
