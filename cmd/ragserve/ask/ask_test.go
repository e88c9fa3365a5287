package askcmder

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fieldnotesco/ragserve/pkg/rag"
)

var _ = Describe("Ask Command", func() {
	It("prints the answer and its sources", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.Method).To(Equal(http.MethodPost))
			Expect(r.URL.Path).To(Equal("/api/chat"))

			var req rag.ChatRequest
			Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
			Expect(req.Message).To(Equal("What is ROS 2?"))

			json.NewEncoder(w).Encode(rag.ChatResponse{
				Response: "ROS 2 is a robotics middleware.",
				Sources:  []string{"doc1", "doc2"},
			})
		}))
		defer server.Close()

		var out bytes.Buffer
		cmd := NewAskCmd()
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs([]string{"--server", server.URL, "What is ROS 2?"})

		Expect(cmd.Execute()).To(Succeed())
		Expect(out.String()).To(ContainSubstring("ROS 2 is a robotics middleware."))
		Expect(out.String()).To(ContainSubstring("Sources:"))
		Expect(out.String()).To(ContainSubstring("- doc1"))
		Expect(out.String()).To(ContainSubstring("- doc2"))
	})

	It("omits the sources section when there are none", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(rag.ChatResponse{Response: "No idea.", Sources: []string{}})
		}))
		defer server.Close()

		var out bytes.Buffer
		cmd := NewAskCmd()
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs([]string{"--server", server.URL, "What is ROS 2?"})

		Expect(cmd.Execute()).To(Succeed())
		Expect(out.String()).NotTo(ContainSubstring("Sources:"))
	})

	It("surfaces server errors", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			json.NewEncoder(w).Encode(rag.ErrorResponse{Error: "upstream request failed"})
		}))
		defer server.Close()

		cmd := NewAskCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"--server", server.URL, "What is ROS 2?"})

		err := cmd.Execute()
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("upstream request failed"))
	})

	It("fails when the server is unreachable", func() {
		cmd := NewAskCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"--server", "http://127.0.0.1:1", "What is ROS 2?"})

		Expect(cmd.Execute()).To(HaveOccurred())
	})
})
