package main

import (
	"bytes"
	"flag"
	"log"
	"net/http"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	shapefile "github.com/tingold/orb-shapefile"
)

type City struct {
	Name       string
	Country    string
	Longitude  float64
	Latitude   float64
	Population int
	Capital    bool
}

var cities = []City{
	{"Tokyo", "Japan", 139.6917, 35.6895, 13960000, true},
	{"New York", "United States", -73.9857, 40.7484, 8336817, false},
	{"London", "United Kingdom", -0.1276, 51.5074, 8982000, true},
	{"São Paulo", "Brazil", -46.6333, -23.5505, 12300000, false},
	{"Cairo", "Egypt", 31.2357, 30.0444, 10230000, true},
	{"Sydney", "Australia", 151.2093, -33.8688, 5312000, false},
}

// writeSample writes the sample cities as a point shapefile in dir.
func writeSample(dir string) (string, error) {
	fc := geojson.NewFeatureCollection()
	for _, city := range cities {
		f := geojson.NewFeature(orb.Point{city.Longitude, city.Latitude})
		f.Properties = geojson.Properties{
			"name":       city.Name,
			"country":    city.Country,
			"population": city.Population,
			"capital":    city.Capital,
		}
		fc.Append(f)
	}

	path := filepath.Join(dir, "world_cities.shp")
	return path, shapefile.WriteFeatures(path, fc, nil)
}

func main() {
	shpPath := flag.String("shp", "", "shapefile to serve (default: a generated sample)")
	addr := flag.String("addr", ":8080", "listen address")
	clientDir := flag.String("client", filepath.Join("..", "client"), "directory of static client files")
	flag.Parse()

	if *shpPath == "" {
		dir, err := os.MkdirTemp("", "shpdemo")
		if err != nil {
			log.Fatalf("Failed to create sample directory: %v", err)
		}
		defer os.RemoveAll(dir)
		if *shpPath, err = writeSample(dir); err != nil {
			log.Fatalf("Failed to write sample shapefile: %v", err)
		}
	}

	// Convert to FlatGeobuf
	r, err := shapefile.Open(*shpPath, nil)
	if err != nil {
		log.Fatalf("Failed to open shapefile: %v", err)
	}
	var fgb bytes.Buffer
	opts := &shapefile.FlatGeobufOptions{
		Name:         "world_cities",
		Description:  "Major world cities",
		IncludeIndex: false,
		CRS:          shapefile.WGS84(),
	}
	if _, err := shapefile.ExportFlatGeobuf(&fgb, r, opts); err != nil {
		log.Fatalf("Failed to create FlatGeobuf: %v", err)
	}
	r.Close()

	// And to GeoJSON
	r, err = shapefile.Open(*shpPath, nil)
	if err != nil {
		log.Fatalf("Failed to open shapefile: %v", err)
	}
	fc, err := r.ReadAll()
	if err != nil {
		log.Fatalf("Failed to read shapefile: %v", err)
	}
	geojsonData, err := json.Marshal(fc)
	if err != nil {
		log.Fatalf("Failed to encode GeoJSON: %v", err)
	}

	// Create a custom handler that checks for data endpoints first
	fs := http.FileServer(http.Dir(*clientDir))
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		switch r.URL.Path {
		case "/data.fgb":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write(fgb.Bytes())
		case "/data.geojson":
			w.Header().Set("Content-Type", "application/geo+json")
			w.Write(geojsonData)
		default:
			fs.ServeHTTP(w, r)
		}
	})

	log.Printf("Serving %s on http://localhost%s", *shpPath, *addr)
	log.Println("Serving client files from:", *clientDir)
	log.Fatal(http.ListenAndServe(*addr, nil))
}
